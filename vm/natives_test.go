package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardNativesPrintInt(t *testing.T) {
	var out bytes.Buffer
	table := StandardNatives(&out, &bytes.Buffer{})
	_, err := table[0](nil, []Value{IntValue(42)})
	require.NoError(t, err)
	require.Equal(t, "42", out.String())
}

func TestStandardNativesImaxImin(t *testing.T) {
	table := StandardNatives(&bytes.Buffer{}, &bytes.Buffer{})
	v, err := table[7](nil, []Value{IntValue(3), IntValue(9)})
	require.NoError(t, err)
	require.Equal(t, int32(3), v.Int())

	v, err = table[8](nil, []Value{IntValue(3), IntValue(9)})
	require.NoError(t, err)
	require.Equal(t, int32(9), v.Int())
}

func TestStandardNativesIsqrt(t *testing.T) {
	table := StandardNatives(&bytes.Buffer{}, &bytes.Buffer{})
	v, err := table[6](nil, []Value{IntValue(81)})
	require.NoError(t, err)
	require.Equal(t, int32(9), v.Int())

	_, err = table[6](nil, []Value{IntValue(-1)})
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ArithError, a.Category)
}

func TestStandardNativesReadChar(t *testing.T) {
	table := StandardNatives(&bytes.Buffer{}, bytes.NewBufferString("A"))
	v, err := table[3](nil, nil)
	require.NoError(t, err)
	require.Equal(t, int32('A'), v.Int())

	v, err = table[3](nil, nil)
	require.NoError(t, err)
	require.Equal(t, int32(-1), v.Int())
}

func TestStandardNativesPrintStringReadsHeapPointer(t *testing.T) {
	var out bytes.Buffer
	table := StandardNatives(&out, &bytes.Buffer{})
	p, err := ReadProgram(bytes.NewReader(assembleImage(nil, []byte("hi\x00"), []FunctionSpec{{Code: ins(RETURN)}}, nil)))
	require.NoError(t, err)
	m := NewVM(p, table)

	n, err := table[2](m, []Value{HeapValueAt(m.stringPoolAddr, 0)})
	require.NoError(t, err)
	require.Equal(t, int32(2), n.Int())
	require.Equal(t, "hi", out.String())
}
