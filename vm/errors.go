package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category is one of the five abort conditions of spec.md §7. None is
// recoverable by the running program; the dispatch loop never resumes
// after raising one.
type Category int

const (
	UserError Category = iota
	AssertionFailure
	MemoryError
	ArithError
	ValueError
)

func (c Category) String() string {
	switch c {
	case UserError:
		return "user error"
	case AssertionFailure:
		return "assertion failure"
	case MemoryError:
		return "memory error"
	case ArithError:
		return "arith error"
	case ValueError:
		return "value error"
	default:
		return "unknown abort"
	}
}

// ExitCode is the process-level exit code the CLI maps this category
// to. A reasonable scheme is one non-zero code per category, per
// spec.md §7's propagation policy note.
func (c Category) ExitCode() int {
	switch c {
	case UserError:
		return 10
	case AssertionFailure:
		return 11
	case MemoryError:
		return 12
	case ArithError:
		return 13
	case ValueError:
		return 14
	default:
		return 1
	}
}

// Abort is the error value the dispatch loop returns once it decides
// the program cannot continue. PC is the address of the opcode that
// raised it.
type Abort struct {
	Category Category
	Message  string
	PC       uint32
	Opcode   Opcode
}

func (a *Abort) Error() string {
	return fmt.Sprintf("%s at pc=%d (%s): %s", a.Category, a.PC, a.Opcode, a.Message)
}

func newAbort(cat Category, pc uint32, op Opcode, format string, args ...any) error {
	return errors.WithStack(&Abort{
		Category: cat,
		Message:  fmt.Sprintf(format, args...),
		PC:       pc,
		Opcode:   op,
	})
}

// newValueError builds a bare value-error abort without PC/opcode
// context, for use inside helpers (like ValEqual) that don't have
// access to the dispatch loop's cursor. The dispatch loop rewraps these
// with pc/opcode before returning them to the caller of Run.
func newValueError(format string, args ...any) error {
	return errors.WithStack(&Abort{
		Category: ValueError,
		Message:  fmt.Sprintf(format, args...),
	})
}

// withContext fills in PC/Opcode on a bare abort produced by a helper
// that had no access to the dispatch loop's cursor (e.g. ValEqual's
// value errors). Aborts that already carry a PC or an opcode are left
// alone.
func withContext(err error, pc uint32, op Opcode) error {
	a, ok := AsAbort(err)
	if !ok || a.Opcode != 0 || a.PC != 0 {
		return err
	}
	a.PC = pc
	a.Opcode = op
	return err
}

// AsAbort unwraps err (which may have been wrapped with
// github.com/pkg/errors along the way) back to the underlying *Abort,
// if any.
func AsAbort(err error) (*Abort, bool) {
	var a *Abort
	if errors.As(err, &a) {
		return a, true
	}
	return nil, false
}

// ImageError reports a malformed program image. It is distinct from the
// five runtime abort categories: it fires before execution starts.
type ImageError struct {
	cause error
}

func (e *ImageError) Error() string { return "malformed program image: " + e.cause.Error() }
func (e *ImageError) Unwrap() error { return e.cause }

func newImageError(format string, args ...any) error {
	return &ImageError{cause: errors.WithStack(fmt.Errorf(format, args...))}
}

func wrapImageError(err error, context string) error {
	return &ImageError{cause: errors.Wrap(err, context)}
}

// FatalError reports an internal condition the interpreter cannot
// continue from that is not one of the five abort categories: an
// unrecognised opcode byte (spec.md §4.7) or an invariant the bytecode
// producer was trusted to uphold and didn't (a pool index out of
// range). Maps to exit code 1, same as an ImageError.
type FatalError struct {
	Message string
	PC      uint32
	Opcode  Opcode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s at pc=%d (opcode 0x%02X)", e.Message, e.PC, byte(e.Opcode))
}

func newFatalError(pc uint32, op Opcode, format string, args ...any) error {
	return errors.WithStack(&FatalError{Message: fmt.Sprintf(format, args...), PC: pc, Opcode: op})
}
