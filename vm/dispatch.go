package vm

import "go.uber.org/zap"

// dispatch is the fetch-decode-execute loop. It owns exactly one
// "current" frame at a time; calls to static functions (INVOKESTATIC,
// or INVOKEDYNAMIC on a static function pointer) swap it out and
// RETURN restores it. Native calls run without a frame switch. Grounded on KTStephano-GVM's
// execInstructions switch, generalized from that VM's register file to
// this instruction set's stack-and-locals model and extended with the
// C1 subset and the five-category abort taxonomy.
func (m *VM) dispatch(entry *Frame) (result int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, ok := r.(string)
			if !ok {
				panic(r)
			}
			result, err = 0, newFatalError(0, 0, "%s", msg)
		}
	}()

	cur := entry

	for {
		if int(cur.pc) >= len(cur.code) {
			return 0, newFatalError(cur.pc, 0, "pc ran off the end of the function's code")
		}
		opcodePC := cur.pc
		op := Opcode(cur.code[cur.pc])

		if m.trace {
			m.log.Debug("dispatch", zap.Uint32("pc", opcodePC), zap.String("op", op.String()))
		}

		width := op.OperandWidth()
		if int(opcodePC)+1+width > len(cur.code) {
			return 0, newFatalError(opcodePC, op, "truncated operand")
		}
		operands := cur.code[opcodePC+1 : opcodePC+1+uint32(width)]
		cur.pc = opcodePC + 1 + uint32(width)

		next, rv, done, stepErr := m.step(cur, op, opcodePC, operands)
		if stepErr != nil {
			return 0, withContext(stepErr, opcodePC, op)
		}
		if done {
			return rv, nil
		}
		if next != nil {
			cur = next
		}
	}
}

// step executes one decoded instruction against cur. It returns a
// non-nil next frame when control transfers to a new one (call or
// return), done=true with the final integer result when the program
// has terminated normally, or leaves next nil to keep executing cur.
func (m *VM) step(cur *Frame, op Opcode, opcodePC uint32, operands []byte) (next *Frame, rv int32, done bool, err error) {
	switch op {
	case NOP:
		// nothing to do; PC already advanced.

	case ACONST_NULL:
		cur.push(NullValue())

	case BIPUSH:
		cur.push(IntValue(int32(int8(operands[0]))))

	case ILDC:
		idx := decodeOperand16(operands[0], operands[1])
		if int(idx) >= len(m.program.IntPool) {
			return nil, 0, false, newFatalError(opcodePC, op, "int_pool index %d out of range", idx)
		}
		cur.push(IntValue(m.program.IntPool[idx]))

	case ALDC:
		idx := decodeOperand16(operands[0], operands[1])
		if int(idx) > len(m.program.StringPool) {
			return nil, 0, false, newFatalError(opcodePC, op, "string_pool offset %d out of range", idx)
		}
		cur.push(HeapValueAt(m.stringPoolAddr, uint32(idx)))

	case VLOAD:
		i := int(operands[0])
		if i >= len(cur.locals) {
			return nil, 0, false, newFatalError(opcodePC, op, "local index %d out of range", i)
		}
		cur.push(cur.locals[i])

	case VSTORE:
		i := int(operands[0])
		if i >= len(cur.locals) {
			return nil, 0, false, newFatalError(opcodePC, op, "local index %d out of range", i)
		}
		cur.locals[i] = cur.pop()

	case POP:
		cur.pop()

	case DUP:
		cur.push(cur.peek())

	case SWAP:
		a := cur.pop()
		b := cur.pop()
		cur.push(a)
		cur.push(b)

	case IADD:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x + y))
	case ISUB:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x - y))
	case IMUL:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x * y))
	case IDIV:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		if y == 0 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "division by zero")
		}
		if x == -2147483648 && y == -1 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "INT_MIN / -1 overflows")
		}
		cur.push(IntValue(x / y))
	case IREM:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		if y == 0 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "remainder by zero")
		}
		if x == -2147483648 && y == -1 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "INT_MIN %% -1 overflows")
		}
		cur.push(IntValue(x % y))
	case IAND:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x & y))
	case IOR:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x | y))
	case IXOR:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		cur.push(IntValue(x ^ y))
	case ISHL:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		if y < 0 || y > 31 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "shift amount %d out of range [0,31]", y)
		}
		cur.push(IntValue(x << uint(y)))
	case ISHR:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		if y < 0 || y > 31 {
			return nil, 0, false, newAbort(ArithError, opcodePC, op, "shift amount %d out of range [0,31]", y)
		}
		cur.push(IntValue(x >> uint(y)))

	case IF_CMPEQ, IF_CMPNE:
		v1 := cur.pop()
		v2 := cur.pop()
		eq, eqErr := ValEqual(v1, v2)
		if eqErr != nil {
			return nil, 0, false, eqErr
		}
		branch := eq
		if op == IF_CMPNE {
			branch = !eq
		}
		if branch {
			cur.pc = branchTarget(opcodePC, operands)
		}

	case IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE:
		y, x, intErr := pop2Ints(cur)
		if intErr != nil {
			return nil, 0, false, intErr
		}
		var branch bool
		switch op {
		case IF_ICMPLT:
			branch = x < y
		case IF_ICMPGE:
			branch = x >= y
		case IF_ICMPGT:
			branch = x > y
		case IF_ICMPLE:
			branch = x <= y
		}
		if branch {
			cur.pc = branchTarget(opcodePC, operands)
		}

	case GOTO:
		cur.pc = branchTarget(opcodePC, operands)

	case ATHROW:
		msgVal := cur.pop()
		if !msgVal.IsPtr() {
			return nil, 0, false, newValueError("ATHROW with a non-pointer message")
		}
		msg, strErr := m.readCString(msgVal.Ptr())
		if strErr != nil {
			return nil, 0, false, strErr
		}
		return nil, 0, false, newAbort(UserError, opcodePC, op, "%s", msg)

	case ASSERT:
		msgPtr := cur.pop()
		cond := cur.pop()
		if !msgPtr.IsPtr() {
			return nil, 0, false, newValueError("ASSERT with a non-pointer message")
		}
		condVal, condErr := intVal(cond)
		if condErr != nil {
			return nil, 0, false, condErr
		}
		if condVal == 0 {
			msg, strErr := m.readCString(msgPtr.Ptr())
			if strErr != nil {
				return nil, 0, false, strErr
			}
			return nil, 0, false, newAbort(AssertionFailure, opcodePC, op, "%s", msg)
		}

	case NEW:
		addr := m.heap.allocRaw(int(operands[0]))
		cur.push(HeapValue(addr))

	case AADDF:
		a := cur.pop()
		if !a.IsPtr() {
			return nil, 0, false, newValueError("AADDF on a non-pointer value")
		}
		cur.push(PtrValue(a.Ptr().WithOffset(uint32(operands[0]))))

	case IMLOAD:
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		v, loadErr := m.heap.loadInt32(p)
		if loadErr != nil {
			return nil, 0, false, loadErr
		}
		cur.push(IntValue(v))

	case IMSTORE:
		val, valErr := popInt(cur)
		if valErr != nil {
			return nil, 0, false, valErr
		}
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		if storeErr := m.heap.storeInt32(p, val); storeErr != nil {
			return nil, 0, false, storeErr
		}

	case CMLOAD:
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		b, loadErr := m.heap.loadByte(p)
		if loadErr != nil {
			return nil, 0, false, loadErr
		}
		cur.push(IntValue(int32(b)))

	case CMSTORE:
		val, valErr := popInt(cur)
		if valErr != nil {
			return nil, 0, false, valErr
		}
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		if storeErr := m.heap.storeByte(p, byte(val)); storeErr != nil {
			return nil, 0, false, storeErr
		}

	case AMLOAD:
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		pv, loadErr := m.heap.loadPtr(p)
		if loadErr != nil {
			return nil, 0, false, loadErr
		}
		cur.push(PtrValue(pv))

	case AMSTORE:
		val := cur.pop()
		if !val.IsPtr() {
			return nil, 0, false, newValueError("AMSTORE of a non-pointer value")
		}
		p, perr := m.derefNonNull(cur.pop())
		if perr != nil {
			return nil, 0, false, perr
		}
		if storeErr := m.heap.storePtr(p, val.Ptr()); storeErr != nil {
			return nil, 0, false, storeErr
		}

	case NEWARRAY:
		n, nErr := popInt(cur)
		if nErr != nil {
			return nil, 0, false, nErr
		}
		if n < 0 {
			return nil, 0, false, newAbort(MemoryError, opcodePC, op, "negative array length %d", n)
		}
		if n == 0 {
			cur.push(NullValue())
			break
		}
		addr := m.heap.allocArray(n, int32(operands[0]))
		cur.push(HeapValue(addr))

	case ARRAYLENGTH:
		a := cur.pop()
		if !a.IsPtr() {
			return nil, 0, false, newValueError("ARRAYLENGTH on a non-pointer value")
		}
		p := a.Ptr()
		if p.IsNull() {
			cur.push(IntValue(0))
			break
		}
		if !m.heap.isArray(p.Addr) {
			return nil, 0, false, newValueError("ARRAYLENGTH on a non-array pointer")
		}
		cur.push(IntValue(m.heap.arrayHeaderAt(p.Addr).count))

	case AADDS:
		i, iErr := popInt(cur)
		if iErr != nil {
			return nil, 0, false, iErr
		}
		a := cur.pop()
		if !a.IsPtr() {
			return nil, 0, false, newValueError("AADDS on a non-pointer value")
		}
		p := a.Ptr()
		if p.IsNull() {
			return nil, 0, false, newAbort(MemoryError, opcodePC, op, "array of length 0")
		}
		if !m.heap.isArray(p.Addr) {
			return nil, 0, false, newValueError("AADDS on a non-array pointer")
		}
		hdr := m.heap.arrayHeaderAt(p.Addr)
		if i < 0 || i >= hdr.count {
			return nil, 0, false, newAbort(MemoryError, opcodePC, op, "array index %d out of bounds [0,%d)", i, hdr.count)
		}
		cur.push(HeapValueAt(hdr.elemsAddr, uint32(i)*uint32(hdr.eltSize)))

	case INVOKESTATIC:
		idx := decodeOperand16(operands[0], operands[1])
		if int(idx) >= len(m.program.FunctionPool) {
			return nil, 0, false, newFatalError(opcodePC, op, "function_pool index %d out of range", idx)
		}
		callee := m.call(cur, m.program.FunctionPool[idx])
		return callee, 0, false, nil

	case INVOKENATIVE:
		idx := decodeOperand16(operands[0], operands[1])
		if int(idx) >= len(m.program.NativePool) {
			return nil, 0, false, newFatalError(opcodePC, op, "native_pool index %d out of range", idx)
		}
		v, callErr := m.callNative(cur, m.program.NativePool[idx])
		if callErr != nil {
			return nil, 0, false, callErr
		}
		cur.push(v)

	case ADDROF_STATIC:
		idx := decodeOperand16(operands[0], operands[1])
		cur.push(FuncValue(false, idx))

	case ADDROF_NATIVE:
		idx := decodeOperand16(operands[0], operands[1])
		cur.push(FuncValue(true, idx))

	case INVOKEDYNAMIC:
		fp := cur.pop()
		if !fp.IsPtr() {
			return nil, 0, false, newValueError("INVOKEDYNAMIC on a non-pointer value")
		}
		p := fp.Ptr()
		if p.Kind != PtrFunc {
			return nil, 0, false, newValueError("INVOKEDYNAMIC on a non-function-pointer value")
		}
		if p.IsNative {
			if int(p.Index) >= len(m.program.NativePool) {
				return nil, 0, false, newFatalError(opcodePC, op, "native_pool index %d out of range", p.Index)
			}
			v, callErr := m.callNative(cur, m.program.NativePool[p.Index])
			if callErr != nil {
				return nil, 0, false, callErr
			}
			cur.push(v)
		} else {
			if int(p.Index) >= len(m.program.FunctionPool) {
				return nil, 0, false, newFatalError(opcodePC, op, "function_pool index %d out of range", p.Index)
			}
			callee := m.call(cur, m.program.FunctionPool[p.Index])
			return callee, 0, false, nil
		}

	case ADDTAG:
		tag := decodeOperand16(operands[0], operands[1])
		p := cur.pop()
		if !p.IsPtr() {
			return nil, 0, false, newValueError("ADDTAG on a non-pointer value")
		}
		if p.Ptr().IsNull() {
			cur.push(p)
			break
		}
		box := m.heap.box(p.Ptr(), tag)
		cur.push(TaggedValue(box))

	case CHECKTAG:
		tag := decodeOperand16(operands[0], operands[1])
		v := cur.pop()
		if !v.IsPtr() {
			return nil, 0, false, newValueError("CHECKTAG on a non-pointer value")
		}
		p := v.Ptr()
		if p.IsNull() {
			cur.push(v)
			break
		}
		if p.Kind != PtrTagged || p.Box.Tag != tag {
			return nil, 0, false, newAbort(ValueError, opcodePC, op, "tag mismatch: expected %d", tag)
		}
		cur.push(v)

	case HASTAG:
		tag := decodeOperand16(operands[0], operands[1])
		v := cur.pop()
		if !v.IsPtr() {
			return nil, 0, false, newValueError("HASTAG on a non-pointer value")
		}
		p := v.Ptr()
		switch {
		case p.IsNull():
			cur.push(IntValue(1))
		case p.Kind == PtrTagged && p.Box.Tag == tag:
			cur.push(IntValue(1))
		default:
			cur.push(IntValue(0))
		}

	case RETURN:
		v := cur.pop()
		if m.frames.empty() {
			if !v.IsInt() {
				return nil, 0, false, newValueError("top-level RETURN of a non-integer value")
			}
			return nil, v.Int(), true, nil
		}
		caller := m.frames.pop()
		caller.push(v)
		return caller, 0, false, nil

	default:
		return nil, 0, false, newFatalError(opcodePC, op, "unrecognised opcode 0x%02X", byte(op))
	}

	return nil, 0, false, nil
}

// call performs the frame-switching half of INVOKESTATIC/INVOKEDYNAMIC:
// pop the callee's arguments off cur in reversed order into a fresh
// locals array, suspend cur onto the call-frame stack, and return the
// new current frame.
func (m *VM) call(cur *Frame, f Function) *Frame {
	callee := newFrame(f.Code, f.NumVars)
	for i := 0; i < int(f.NumArgs); i++ {
		callee.locals[int(f.NumArgs)-1-i] = cur.pop()
	}
	m.frames.push(cur)
	return callee
}

// callNative pops a native's arguments in the same reversed order as a
// static call but runs synchronously without a frame push (spec.md
// §4.2).
func (m *VM) callNative(cur *Frame, n Native) (Value, error) {
	args := make([]Value, n.NumArgs)
	for i := 0; i < int(n.NumArgs); i++ {
		args[int(n.NumArgs)-1-i] = cur.pop()
	}
	if int(n.FunctionTableIndex) >= len(m.natives) || m.natives[n.FunctionTableIndex] == nil {
		return Value{}, newFatalError(0, INVOKENATIVE, "native_table index %d has no implementation", n.FunctionTableIndex)
	}
	return m.natives[n.FunctionTableIndex](m, args)
}

// derefNonNull takes a popped value and rejects both non-pointer values
// and the null pointer, the shared precondition of every load/store
// opcode in §4.3.
func (m *VM) derefNonNull(v Value) (Pointer, error) {
	if !v.IsPtr() {
		return Pointer{}, newValueError("memory access through a non-pointer value")
	}
	p := v.Ptr()
	if p.IsNull() {
		return Pointer{}, newAbort(MemoryError, 0, 0, "dereference of null pointer")
	}
	return p, nil
}

// intVal extracts the integer payload of v, raising the value-error
// abort spec.md §7 mandates for a mis-typed operand (a pointer where an
// opcode expects an integer). Grounded on original_source/lib/c0vm.h's
// val2int, which calls c0_value_error on exactly this cast failure
// rather than treating it as an internal invariant violation.
func intVal(v Value) (int32, error) {
	if !v.IsInt() {
		return 0, newValueError("expected an integer value, found a pointer")
	}
	return v.Int(), nil
}

// popInt pops the top of the stack and casts it to an integer.
func popInt(cur *Frame) (int32, error) {
	return intVal(cur.pop())
}

// pop2Ints pops the top two stack slots, y then x, matching the pop
// order every binary arithmetic/comparison opcode shares, and casts
// both to integers.
func pop2Ints(cur *Frame) (y, x int32, err error) {
	yVal := cur.pop()
	xVal := cur.pop()
	y, err = intVal(yVal)
	if err != nil {
		return 0, 0, err
	}
	x, err = intVal(xVal)
	if err != nil {
		return 0, 0, err
	}
	return y, x, nil
}

// branchTarget computes the PC update every branch opcode shares: the
// signed 16-bit offset is relative to the address of the opcode itself
// (spec.md §9), not the address following its operands.
func branchTarget(opcodePC uint32, operands []byte) uint32 {
	return uint32(int64(opcodePC) + int64(signExtend16(operands[0], operands[1])))
}
