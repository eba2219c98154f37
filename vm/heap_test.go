package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapAllocRawIsZeroed(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(8)
	for _, b := range h.bytesAt(addr) {
		require.Zero(t, b)
	}
}

func TestHeapInt32RoundTrip(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(8)
	p := Pointer{Kind: PtrHeap, Addr: addr, Offset: 4}
	require.NoError(t, h.storeInt32(p, -99))
	v, err := h.loadInt32(p)
	require.NoError(t, err)
	require.Equal(t, int32(-99), v)
}

func TestHeapInt32OutOfBounds(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(2)
	_, err := h.loadInt32(Pointer{Kind: PtrHeap, Addr: addr, Offset: 0})
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, MemoryError, a.Category)
}

func TestHeapByteStoreMasksTo7Bits(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(1)
	p := Pointer{Kind: PtrHeap, Addr: addr}
	require.NoError(t, h.storeByte(p, 0xFF))
	b, err := h.loadByte(p)
	require.NoError(t, err)
	require.Equal(t, byte(0x7F), b)
}

func TestHeapPointerFieldDefaultsToNull(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(8)
	p, err := h.loadPtr(Pointer{Kind: PtrHeap, Addr: addr, Offset: 0})
	require.NoError(t, err)
	require.True(t, p.IsNull())
}

func TestHeapPointerFieldRoundTrip(t *testing.T) {
	h := newHeap()
	addr := h.allocRaw(8)
	slot := Pointer{Kind: PtrHeap, Addr: addr, Offset: 0}
	stored := Pointer{Kind: PtrHeap, Addr: 99, Offset: 2}
	require.NoError(t, h.storePtr(slot, stored))
	got, err := h.loadPtr(slot)
	require.NoError(t, err)
	require.Equal(t, stored, got)
}

func TestHeapArrayDescriptor(t *testing.T) {
	h := newHeap()
	desc := h.allocArray(3, 4)
	require.True(t, h.isArray(desc))
	hdr := h.arrayHeaderAt(desc)
	require.Equal(t, int32(3), hdr.count)
	require.Equal(t, int32(4), hdr.eltSize)
	require.Len(t, h.bytesAt(hdr.elemsAddr), 12)
}

func TestHeapNullAddressIsNeverAllocated(t *testing.T) {
	h := newHeap()
	first := h.allocRaw(1)
	require.NotEqual(t, uint32(0), first)
}
