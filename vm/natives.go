package vm

import (
	"bufio"
	"fmt"
	"io"
)

// NativeFunction is the signature every entry in a NativeTable
// implements: take the declared argument array (already popped off the
// caller's operand stack, in call order) and return one Value. Grounded
// on spec.md §6.2's ABI and adapted from KTStephano-GVM's
// vm/devices.go indexed-directory-of-handlers shape, collapsed from
// concurrent hardware devices to synchronous pure functions because
// spec.md §4.2/§5 require natives to run synchronously with no frame
// push and no suspension point.
type NativeFunction func(vm *VM, args []Value) (Value, error)

// NativeTable is the fixed directory the interpreter consumes by index
// (spec.md §6.2); it never constructs one itself.
type NativeTable []NativeFunction

// StandardNatives is the small built-in directory this repository
// ships (SPEC_FULL.md §6.2): console I/O and a handful of string/math
// helpers, the analogue of KTStephano-GVM's console-IO and
// memory-management device ports but synchronous.
func StandardNatives(out io.Writer, in io.Reader) NativeTable {
	w := bufio.NewWriter(out)
	r := bufio.NewReader(in)

	return NativeTable{
		0: func(_ *VM, args []Value) (Value, error) { // print_int
			n, err := requireInt(args, 0)
			if err != nil {
				return Value{}, err
			}
			fmt.Fprintf(w, "%d", n)
			w.Flush()
			return IntValue(n), nil
		},
		1: func(_ *VM, args []Value) (Value, error) { // print_char
			n, err := requireInt(args, 0)
			if err != nil {
				return Value{}, err
			}
			w.WriteRune(rune(n))
			w.Flush()
			return IntValue(n), nil
		},
		2: func(m *VM, args []Value) (Value, error) { // print_string
			s, err := requireString(m, args, 0)
			if err != nil {
				return Value{}, err
			}
			w.WriteString(s)
			w.Flush()
			return IntValue(int32(len(s))), nil
		},
		3: func(_ *VM, _ []Value) (Value, error) { // read_char
			b, err := r.ReadByte()
			if err != nil {
				return IntValue(-1), nil
			}
			return IntValue(int32(b)), nil
		},
		4: func(m *VM, args []Value) (Value, error) { // strlen
			s, err := requireString(m, args, 0)
			if err != nil {
				return Value{}, err
			}
			return IntValue(int32(len(s))), nil
		},
		5: func(m *VM, args []Value) (Value, error) { // strcmp
			a, err := requireString(m, args, 0)
			if err != nil {
				return Value{}, err
			}
			b, err := requireString(m, args, 1)
			if err != nil {
				return Value{}, err
			}
			switch {
			case a < b:
				return IntValue(-1), nil
			case a > b:
				return IntValue(1), nil
			default:
				return IntValue(0), nil
			}
		},
		6: func(_ *VM, args []Value) (Value, error) { // isqrt
			n, err := requireInt(args, 0)
			if err != nil {
				return Value{}, err
			}
			if n < 0 {
				return Value{}, newAbort(ArithError, 0, 0, "isqrt of negative value %d", n)
			}
			return IntValue(isqrt(n)), nil
		},
		7: func(_ *VM, args []Value) (Value, error) { // imin
			a, err := requireInt(args, 0)
			if err != nil {
				return Value{}, err
			}
			b, err := requireInt(args, 1)
			if err != nil {
				return Value{}, err
			}
			if a < b {
				return IntValue(a), nil
			}
			return IntValue(b), nil
		},
		8: func(_ *VM, args []Value) (Value, error) { // imax
			a, err := requireInt(args, 0)
			if err != nil {
				return Value{}, err
			}
			b, err := requireInt(args, 1)
			if err != nil {
				return Value{}, err
			}
			if a > b {
				return IntValue(a), nil
			}
			return IntValue(b), nil
		},
	}
}

func requireInt(args []Value, i int) (int32, error) {
	if !args[i].IsInt() {
		return 0, newValueError("native argument %d: expected integer", i)
	}
	return args[i].Int(), nil
}

// requireString reads a NUL-terminated string starting at args[i],
// which may point into the program's string pool or into a heap
// allocation built by the running program.
func requireString(m *VM, args []Value, i int) (string, error) {
	if !args[i].IsPtr() {
		return "", newValueError("native argument %d: expected pointer", i)
	}
	p := args[i].Ptr()
	if p.IsNull() {
		return "", newAbort(MemoryError, 0, 0, "null string argument")
	}
	return m.readCString(p)
}

func isqrt(n int32) int32 {
	if n == 0 {
		return 0
	}
	x := n
	y := x/2 + x%2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
