package vm

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// BytecodeVersion is the program-image format version this loader
// accepts, pinned to the reference's BYTECODE_VERSION.
const BytecodeVersion = 11

var imageMagic = [4]byte{'S', 'V', 'M', '1'}

// Function is one entry of the function pool: a statically-callable
// routine with its own code, argument count, and local-variable count.
type Function struct {
	NumArgs uint8
	NumVars uint8
	Code    []byte
}

// Native is one entry of the native pool: a declared arity plus the
// index into whatever NativeTable the embedder supplies at run time.
type Native struct {
	NumArgs            uint16
	FunctionTableIndex uint16
}

// Program is the read-only, loader-produced structure the interpreter
// consumes (spec.md §6.1). It is immutable and shared by all frames.
type Program struct {
	IntPool      []int32
	StringPool   []byte
	FunctionPool []Function
	NativePool   []Native
}

// LoadProgram parses the on-disk binary image format described in
// SPEC_FULL.md §6.1. It performs no bytecode verification beyond
// structural bounds checks (spec.md's Non-goals exclude deeper
// verification) — malformed opcodes are only discovered once the
// dispatch loop reaches them.
func LoadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapImageError(err, "open image")
	}
	defer f.Close()

	return ReadProgram(bufio.NewReader(f))
}

// ReadProgram parses the image format from an arbitrary reader, so
// tests can build fixtures in memory without touching the filesystem.
func ReadProgram(r io.Reader) (*Program, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, wrapImageError(err, "read magic")
	}
	if magic != imageMagic {
		return nil, newImageError("bad magic %q", magic)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, wrapImageError(err, "read version")
	}
	if version != BytecodeVersion {
		return nil, newImageError("unsupported bytecode version %d (want %d)", version, BytecodeVersion)
	}

	p := &Program{}

	intCount, err := readU16(r)
	if err != nil {
		return nil, wrapImageError(err, "read int_count")
	}
	p.IntPool = make([]int32, intCount)
	for i := range p.IntPool {
		var v int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, wrapImageError(err, "read int_pool")
		}
		p.IntPool[i] = v
	}

	stringCount, err := readU16(r)
	if err != nil {
		return nil, wrapImageError(err, "read string_count")
	}
	p.StringPool = make([]byte, stringCount)
	if _, err := io.ReadFull(r, p.StringPool); err != nil {
		return nil, wrapImageError(err, "read string_pool")
	}

	functionCount, err := readU16(r)
	if err != nil {
		return nil, wrapImageError(err, "read function_count")
	}
	p.FunctionPool = make([]Function, functionCount)
	for i := range p.FunctionPool {
		fn, err := readFunction(r)
		if err != nil {
			return nil, wrapImageError(err, "read function_pool")
		}
		p.FunctionPool[i] = fn
	}

	nativeCount, err := readU16(r)
	if err != nil {
		return nil, wrapImageError(err, "read native_count")
	}
	p.NativePool = make([]Native, nativeCount)
	for i := range p.NativePool {
		n, err := readNative(r)
		if err != nil {
			return nil, wrapImageError(err, "read native_pool")
		}
		p.NativePool[i] = n
	}

	if len(p.FunctionPool) == 0 {
		return nil, newImageError("function pool is empty: no entry point at function_pool[0]")
	}

	return p, nil
}

func readFunction(r io.Reader) (Function, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Function{}, err
	}
	numArgs, numVars := hdr[0], hdr[1]
	codeLength := binary.LittleEndian.Uint16(hdr[2:4])

	code := make([]byte, codeLength)
	if _, err := io.ReadFull(r, code); err != nil {
		return Function{}, err
	}

	return Function{NumArgs: numArgs, NumVars: numVars, Code: code}, nil
}

func readNative(r io.Reader) (Native, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Native{}, err
	}
	return Native{
		NumArgs:            binary.LittleEndian.Uint16(buf[0:2]),
		FunctionTableIndex: binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, errors.WithStack(err)
}
