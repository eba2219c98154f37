package vm

import (
	"bytes"

	"go.uber.org/zap"
)

// VM ties together everything one execution needs: the program being
// run, the heap arena backing it, the native directory it may call
// into, and the call-frame stack that tracks progress. Grounded on
// KTStephano-GVM's vm.VM struct, generalized from its register file to
// this instruction set's stack-and-locals model.
type VM struct {
	program *Program
	heap    *Heap
	natives NativeTable
	frames  callStack
	log     *zap.Logger

	stringPoolAddr uint32
	trace          bool
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithLogger overrides the default no-op logger, letting the CLI wire
// in a configured *zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *VM) { m.log = l }
}

// WithTrace enables a debug log line per dispatched instruction.
func WithTrace(on bool) Option {
	return func(m *VM) { m.trace = on }
}

// NewVM builds a VM ready to execute p, with natives wired to the
// supplied table (an embedder may pass a shorter or different table
// than StandardNatives; the interpreter only ever indexes into it).
func NewVM(p *Program, natives NativeTable, opts ...Option) *VM {
	m := &VM{
		program: p,
		heap:    newHeap(),
		natives: natives,
		log:     zap.NewNop(),
	}
	m.stringPoolAddr = m.heap.allocRaw(len(p.StringPool))
	copy(m.heap.bytesAt(m.stringPoolAddr), p.StringPool)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// readCString reads a NUL-terminated byte sequence starting at p,
// whether p addresses the program's string pool (ALDC's target) or a
// heap allocation a running program built itself — both are plain
// PtrHeap pointers into the same arena (spec.md's "regular heap
// pointer" covers both cases uniformly).
func (m *VM) readCString(p Pointer) (string, error) {
	if p.Kind != PtrHeap {
		return "", newValueError("string argument is not a heap pointer")
	}
	raw := m.heap.bytesAt(p.Addr)
	if int(p.Offset) > len(raw) {
		return "", newAbort(MemoryError, 0, 0, "string offset %d out of bounds (len %d)", p.Offset, len(raw))
	}
	raw = raw[p.Offset:]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		return string(raw[:i]), nil
	}
	return string(raw), nil
}

// Run executes the program starting at function_pool[0] and returns
// its integer result, or the abort that ended it early (spec.md §6.3).
func (m *VM) Run() (int32, error) {
	if len(m.program.FunctionPool) == 0 {
		return 0, newImageError("no entry point: function pool is empty")
	}
	entry := m.program.FunctionPool[0]
	if entry.NumArgs != 0 {
		return 0, newImageError("entry point function_pool[0] must take zero arguments")
	}
	frame := newFrame(entry.Code, entry.NumVars)
	return m.dispatch(frame)
}
