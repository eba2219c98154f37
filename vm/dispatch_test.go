package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// runImage loads and executes an assembled image with the standard
// native table wired to the given buffers.
func runImage(t *testing.T, img []byte) (int32, error) {
	t.Helper()
	p, err := ReadProgram(bytes.NewReader(img))
	require.NoError(t, err)
	m := NewVM(p, StandardNatives(&bytes.Buffer{}, &bytes.Buffer{}))
	return m.Run()
}

// fibonacciImage builds the recursive Fibonacci program from spec.md's
// scenario 1: function 0 computes fib(n) by calling function 1.
func fibonacciImage(n byte) []byte {
	hi, lo := u16be(1) // function_pool index of fib

	fibCode := concatCode(
		ins(VLOAD, 0),
		ins(BIPUSH, 2),
		ins(IF_ICMPLT, 0, 21), // -> base case, 21 bytes ahead
		ins(VLOAD, 0),
		ins(BIPUSH, 1),
		ins(ISUB),
		ins(INVOKESTATIC, hi, lo),
		ins(VLOAD, 0),
		ins(BIPUSH, 2),
		ins(ISUB),
		ins(INVOKESTATIC, hi, lo),
		ins(IADD),
		ins(RETURN),
		ins(VLOAD, 0), // base case (address 25)
		ins(RETURN),
	)

	entryCode := concatCode(
		ins(BIPUSH, n),
		ins(INVOKESTATIC, hi, lo),
		ins(RETURN),
	)

	return assembleImage(nil, nil, []FunctionSpec{
		{NumArgs: 0, NumVars: 0, Code: entryCode},
		{NumArgs: 1, NumVars: 1, Code: fibCode},
	}, nil)
}

func TestFibonacciOfTen(t *testing.T) {
	result, err := runImage(t, fibonacciImage(10))
	require.NoError(t, err)
	require.Equal(t, int32(55), result)
}

func TestDivisionByZeroTraps(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 1),
		ins(BIPUSH, 0),
		ins(IDIV),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ArithError, a.Category)
}

func TestIntMinOverflowTraps(t *testing.T) {
	img := assembleImage([]int32{-2147483648}, nil, []FunctionSpec{{Code: concatCode(
		ins(ILDC, 0, 0),
		ins(BIPUSH, 0xFF), // -1 as a sign-extended byte
		ins(IDIV),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ArithError, a.Category)
}

func TestArrayBounds(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 3),
		ins(NEWARRAY, 4),
		ins(VSTORE, 0),
		ins(VLOAD, 0),
		ins(BIPUSH, 2),
		ins(AADDS),
		ins(BIPUSH, 7),
		ins(IMSTORE),
		ins(VLOAD, 0),
		ins(BIPUSH, 2),
		ins(AADDS),
		ins(IMLOAD),
		ins(RETURN),
	), NumVars: 1}}, nil)

	result, err := runImage(t, img)
	require.NoError(t, err)
	require.Equal(t, int32(7), result)

	oob := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 3),
		ins(NEWARRAY, 4),
		ins(BIPUSH, 3),
		ins(AADDS),
		ins(RETURN),
	)}}, nil)
	_, err = runImage(t, oob)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, MemoryError, a.Category)
}

func TestNullStoreTraps(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(ACONST_NULL),
		ins(BIPUSH, 1),
		ins(IMSTORE),
		ins(BIPUSH, 0),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, MemoryError, a.Category)
}

func TestAssertTrueAndFalse(t *testing.T) {
	pass := assembleImage(nil, []byte("msg\x00"), []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 1),
		ins(ALDC, 0, 0),
		ins(ASSERT),
		ins(BIPUSH, 0),
		ins(RETURN),
	)}}, nil)
	_, err := runImage(t, pass)
	require.NoError(t, err)

	fail := assembleImage(nil, []byte("msg\x00"), []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 0),
		ins(ALDC, 0, 0),
		ins(ASSERT),
		ins(BIPUSH, 0),
		ins(RETURN),
	)}}, nil)
	_, err = runImage(t, fail)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, AssertionFailure, a.Category)
	require.Contains(t, a.Message, "msg")
}

func TestTopLevelReturnMustBeInteger(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(ACONST_NULL),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ValueError, a.Category)
}

func TestMistypedArithmeticOperandRaisesValueError(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(ACONST_NULL),
		ins(ACONST_NULL),
		ins(IADD),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ValueError, a.Category)
}

func TestAssertWithNonPointerMessageTrapsEvenWhenTrue(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: concatCode(
		ins(BIPUSH, 1), // truthy condition: a buggy check would never reach the message cast
		ins(BIPUSH, 0), // non-pointer "message"
		ins(ASSERT),
		ins(BIPUSH, 0),
		ins(RETURN),
	)}}, nil)

	_, err := runImage(t, img)
	a, ok := AsAbort(err)
	require.True(t, ok)
	require.Equal(t, ValueError, a.Category)
}

func TestInvokeStaticShrinksCallerStackByArgCount(t *testing.T) {
	callee := FunctionSpec{NumArgs: 2, NumVars: 2, Code: concatCode(
		ins(VLOAD, 0),
		ins(VLOAD, 1),
		ins(IADD),
		ins(RETURN),
	)}
	hi, lo := u16be(1)
	entry := FunctionSpec{Code: concatCode(
		ins(BIPUSH, 10), // stays below the arguments on the caller's stack
		ins(BIPUSH, 3),
		ins(BIPUSH, 4),
		ins(INVOKESTATIC, hi, lo),
		ins(IADD), // 10 + 7 only if both arguments were popped
		ins(RETURN),
	)}
	img := assembleImage(nil, nil, []FunctionSpec{entry, callee}, nil)
	result, err := runImage(t, img)
	require.NoError(t, err)
	require.Equal(t, int32(17), result)
}
