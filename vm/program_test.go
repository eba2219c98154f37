package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadProgramRoundTrip(t *testing.T) {
	img := assembleImage(
		[]int32{41, -7},
		[]byte("hi\x00"),
		[]FunctionSpec{{NumArgs: 0, NumVars: 1, Code: ins(RETURN)}},
		[]NativeSpec{{NumArgs: 1, FunctionTableIndex: 0}},
	)

	p, err := ReadProgram(bytes.NewReader(img))
	require.NoError(t, err)
	require.Equal(t, []int32{41, -7}, p.IntPool)
	require.Equal(t, []byte("hi\x00"), p.StringPool)
	require.Len(t, p.FunctionPool, 1)
	require.Equal(t, uint8(1), p.FunctionPool[0].NumVars)
	require.Len(t, p.NativePool, 1)
	require.Equal(t, uint16(0), p.NativePool[0].FunctionTableIndex)
}

func TestReadProgramBadMagic(t *testing.T) {
	_, err := ReadProgram(bytes.NewReader([]byte("NOPE0000")))
	require.Error(t, err)
	var imgErr *ImageError
	require.ErrorAs(t, err, &imgErr)
}

func TestReadProgramBadVersion(t *testing.T) {
	img := assembleImage(nil, nil, []FunctionSpec{{Code: ins(RETURN)}}, nil)
	img[4] = 9 // corrupt the version field (low byte of the u16)
	_, err := ReadProgram(bytes.NewReader(img))
	require.Error(t, err)
}

func TestReadProgramEmptyFunctionPoolRejected(t *testing.T) {
	img := assembleImage(nil, nil, nil, nil)
	_, err := ReadProgram(bytes.NewReader(img))
	require.Error(t, err)
}
