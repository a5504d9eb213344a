package x86

import "github.com/xyproto/pevm/internal/cpustate"

// incDecFlags updates ZF/SF/OF for INC/DEC — these never touch CF, the
// one exception in the 8-flag ALU family.
func (c *CPU) incDecFlags(before, after uint32, bits int, isInc bool) {
	s := c.State
	after = mask(after, bits)
	s.ZF = after == 0
	s.SF = signBit(after, bits)
	if isInc {
		s.OF = !signBit(before, bits) && signBit(after, bits)
	} else {
		s.OF = signBit(before, bits) && !signBit(after, bits)
	}
}

// execIncDecReg handles the one-byte INC/DEC r32 forms (0x40-0x4F).
func (c *CPU) execIncDecReg(next uint32, opcode byte) (*ImportHit, error) {
	reg := cpustate.GPR(opcode & 7)
	isInc := opcode < 0x48
	before := c.State.Get32(reg)
	var after uint32
	if isInc {
		after = before + 1
	} else {
		after = before - 1
	}
	c.State.Set32(reg, after)
	c.incDecFlags(before, after, 32, isInc)
	c.State.EIP = next
	return nil, nil
}

// execIncDecRM handles the ModRM INC/DEC forms inside Group5 (FF /0 /1)
// and Group4 (FE /0 /1, byte only).
func (c *CPU) execIncDecRM(prefixes Prefixes, m ModRM, after uint32, bits int, isInc bool) (*ImportHit, error) {
	before, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	var v uint32
	if isInc {
		v = before + 1
	} else {
		v = before - 1
	}
	if err := c.writeOperand(m.RM_Operand, bits, v); err != nil {
		return nil, err
	}
	c.incDecFlags(before, v, bits, isInc)
	c.State.EIP = after
	return nil, nil
}
