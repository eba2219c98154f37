package vm

// Value is the tagged sum every operand-stack slot and local-variable
// slot holds: either a 32-bit signed integer or a pointer. Kept as a
// first-class Go sum type rather than the reference's bit-stolen
// pointer encoding, per the reference's own design notes.
type Value struct {
	kind ValueKind
	i    int32
	ptr  Pointer
}

type ValueKind uint8

const (
	KindInt ValueKind = iota
	KindPtr
)

// PointerKind distinguishes the three flavours of non-null pointer plus
// null itself.
type PointerKind uint8

const (
	PtrNull PointerKind = iota
	PtrHeap
	PtrTagged
	PtrFunc
)

// Pointer is the payload of a KindPtr Value. Only the fields relevant
// to its Kind are meaningful.
type Pointer struct {
	Kind PointerKind

	// PtrHeap: the heap block this pointer refers to, plus a byte
	// offset within that block. AADDF advances Offset within the same
	// block; AADDS yields a pointer into the array's separate elements
	// block at the element's byte offset.
	Addr   uint32
	Offset uint32

	// PtrTagged: the boxed pointer and its 16-bit type tag.
	Box *TaggedBox

	// PtrFunc: whether the function lives in the native pool or the
	// static function pool, and its index into that pool.
	IsNative bool
	Index    uint16
}

// TaggedBox is the heap-resident {real_pointer, tag16} pair an ADDTAG
// produces. It is never itself null; the null pointer is represented
// directly as PtrNull and is never boxed (see ValEqual).
type TaggedBox struct {
	Real Pointer
	Tag  uint16
}

func IntValue(i int32) Value { return Value{kind: KindInt, i: i} }

func PtrValue(p Pointer) Value { return Value{kind: KindPtr, ptr: p} }

func NullValue() Value { return Value{kind: KindPtr, ptr: Pointer{Kind: PtrNull}} }

func HeapValue(addr uint32) Value {
	return Value{kind: KindPtr, ptr: Pointer{Kind: PtrHeap, Addr: addr}}
}

// HeapValueAt builds a pointer into the middle of a block, for AADDF /
// AADDS style byte-offset arithmetic and for ALDC's string-pool
// addressing (the string pool is itself one reserved heap block, see
// VM.readCString).
func HeapValueAt(addr, offset uint32) Value {
	return Value{kind: KindPtr, ptr: Pointer{Kind: PtrHeap, Addr: addr, Offset: offset}}
}

// WithOffset returns p advanced by delta bytes within the same block,
// the operation AADDF performs.
func (p Pointer) WithOffset(delta uint32) Pointer {
	p.Offset += delta
	return p
}

func FuncValue(isNative bool, index uint16) Value {
	return Value{kind: KindPtr, ptr: Pointer{Kind: PtrFunc, IsNative: isNative, Index: index}}
}

func TaggedValue(box *TaggedBox) Value {
	return Value{kind: KindPtr, ptr: Pointer{Kind: PtrTagged, Box: box}}
}

// IsInt and IsPtr report the Value's variant.
func (v Value) IsInt() bool { return v.kind == KindInt }
func (v Value) IsPtr() bool { return v.kind == KindPtr }

// Int returns the integer payload. Callers must check IsInt first; the
// dispatch loop uses intVal, which raises a value error instead.
func (v Value) Int() int32 { return v.i }

// Ptr returns the pointer payload. Callers must check IsPtr first.
func (v Value) Ptr() Pointer { return v.ptr }

func (p Pointer) IsNull() bool { return p.Kind == PtrNull }

// ValEqual implements the value-equality contract of spec.md §4.5.
// The boolean result is false (with err set) whenever the comparison is ill-typed and
// must abort with a value error rather than silently return a boolean.
func ValEqual(a, b Value) (bool, error) {
	if a.kind != b.kind {
		return false, newValueError("equality between an integer and a pointer")
	}

	if a.kind == KindInt {
		return a.i == b.i, nil
	}

	pa, pb := a.ptr, b.ptr

	if pa.IsNull() && pb.IsNull() {
		return true, nil
	}
	if pa.IsNull() != pb.IsNull() {
		return false, nil
	}

	if pa.Kind == PtrTagged && pb.Kind == PtrTagged {
		return pa.Box.Real == pb.Box.Real, nil
	}
	if pa.Kind == PtrTagged || pb.Kind == PtrTagged {
		return false, newValueError("equality between a tagged pointer and an untagged pointer")
	}

	if pa.Kind != pb.Kind {
		return false, newValueError("equality between a function pointer and a regular pointer")
	}

	switch pa.Kind {
	case PtrHeap:
		return pa.Addr == pb.Addr && pa.Offset == pb.Offset, nil
	case PtrFunc:
		return pa.IsNative == pb.IsNative && pa.Index == pb.Index, nil
	default:
		return false, newValueError("equality on an unrecognised pointer kind")
	}
}
