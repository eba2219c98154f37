package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders a function's code as one mnemonic per line,
// decoding inline operands the same way the dispatch loop does.
// Grounded on KTStephano-GVM's Bytecode.String()/formatInstructionStr
// pairing of a raw opcode stream with a human-readable dump.
func Disassemble(f Function) string {
	var b strings.Builder
	code := f.Code
	for pc := 0; pc < len(code); {
		op := Opcode(code[pc])
		width := op.OperandWidth()
		if pc+1+width > len(code) {
			fmt.Fprintf(&b, "%04d: %-16s <truncated>\n", pc, op)
			break
		}
		operands := code[pc+1 : pc+1+width]

		switch width {
		case 0:
			fmt.Fprintf(&b, "%04d: %s\n", pc, op)
		case 1:
			fmt.Fprintf(&b, "%04d: %-16s %d\n", pc, op, operands[0])
		case 2:
			idx := decodeOperand16(operands[0], operands[1])
			if op.IsBranch() {
				target := branchTarget(uint32(pc), operands)
				fmt.Fprintf(&b, "%04d: %-16s -> %04d\n", pc, op, target)
			} else {
				fmt.Fprintf(&b, "%04d: %-16s %d\n", pc, op, idx)
			}
		}
		pc += 1 + width
	}
	return b.String()
}

// DisassembleProgram dumps every function in the pool, prefixed with
// its index and declared signature.
func DisassembleProgram(p *Program) string {
	var b strings.Builder
	for i, f := range p.FunctionPool {
		fmt.Fprintf(&b, "function %d (args=%d vars=%d):\n", i, f.NumArgs, f.NumVars)
		b.WriteString(Disassemble(f))
		b.WriteByte('\n')
	}
	return b.String()
}
