package x86

import "github.com/xyproto/pevm/internal/cpustate"

func (c *CPU) push32(v uint32) error {
	sp := c.State.Get32(cpustate.ESP) - 4
	if err := c.Mem.WriteU32(sp, v); err != nil {
		return err
	}
	c.State.Set32(cpustate.ESP, sp)
	return nil
}

func (c *CPU) pop32() (uint32, error) {
	sp := c.State.Get32(cpustate.ESP)
	v, err := c.Mem.ReadU32(sp)
	if err != nil {
		return 0, err
	}
	c.State.Set32(cpustate.ESP, sp+4)
	return v, nil
}

// execPushReg handles PUSH r32 (0x50-0x57).
func (c *CPU) execPushReg(next uint32, opcode byte) (*ImportHit, error) {
	v := c.State.Get32(cpustate.GPR(opcode & 7))
	if err := c.push32(v); err != nil {
		return nil, err
	}
	c.State.EIP = next
	return nil, nil
}

// execPopReg handles POP r32 (0x58-0x5F).
func (c *CPU) execPopReg(next uint32, opcode byte) (*ImportHit, error) {
	v, err := c.pop32()
	if err != nil {
		return nil, err
	}
	c.State.Set32(cpustate.GPR(opcode&7), v)
	c.State.EIP = next
	return nil, nil
}

// execPushImm handles PUSH imm32 (0x68) and PUSH imm8 sign-extended (0x6A).
func (c *CPU) execPushImm(next uint32, opcode byte) (*ImportHit, error) {
	var v uint32
	var after uint32
	if opcode == 0x68 {
		iv, err := c.Mem.ReadU32(next)
		if err != nil {
			return nil, err
		}
		v = iv
		after = next + 4
	} else {
		iv, err := c.Mem.ReadU8(next)
		if err != nil {
			return nil, err
		}
		v = uint32(int32(int8(iv)))
		after = next + 1
	}
	if err := c.push32(v); err != nil {
		return nil, err
	}
	c.State.EIP = after
	return nil, nil
}

// execPushfPopf handles PUSHFD (0x9C) / POPFD (0x9D).
func (c *CPU) execPushfPopf(next uint32, opcode byte) (*ImportHit, error) {
	if opcode == 0x9C {
		if err := c.push32(c.State.EFLAGS()); err != nil {
			return nil, err
		}
	} else {
		v, err := c.pop32()
		if err != nil {
			return nil, err
		}
		c.State.SetEFLAGS(v)
	}
	c.State.EIP = next
	return nil, nil
}

// execLeave handles LEAVE (0xC9): ESP <- EBP; EBP <- pop().
func (c *CPU) execLeave(next uint32) (*ImportHit, error) {
	c.State.Set32(cpustate.ESP, c.State.Get32(cpustate.EBP))
	v, err := c.pop32()
	if err != nil {
		return nil, err
	}
	c.State.Set32(cpustate.EBP, v)
	c.State.EIP = next
	return nil, nil
}

// execRet handles RET (0xC3) and RET imm16 (0xC2).
func (c *CPU) execRet(next uint32, opcode byte) (*ImportHit, error) {
	retAddr, err := c.pop32()
	if err != nil {
		return nil, err
	}
	if opcode == 0xC2 {
		n, err := c.Mem.ReadU16(next)
		if err != nil {
			return nil, err
		}
		c.State.Set32(cpustate.ESP, c.State.Get32(cpustate.ESP)+uint32(n))
		c.State.EIP = retAddr
		return nil, nil
	}
	c.State.EIP = retAddr
	return nil, nil
}

// execCallRel handles CALL rel32 (0xE8).
func (c *CPU) execCallRel(next uint32) (*ImportHit, error) {
	rel, err := c.Mem.ReadU32(next)
	if err != nil {
		return nil, err
	}
	after := next + 4
	target := after + rel
	if err := c.push32(after); err != nil {
		return nil, err
	}
	c.State.EIP = target
	return nil, nil
}

// execJmpRel handles JMP rel32 (0xE9) and JMP rel8 (0xEB).
func (c *CPU) execJmpRel(next uint32, opcode byte) (*ImportHit, error) {
	if opcode == 0xEB {
		rel, err := c.Mem.ReadU8(next)
		if err != nil {
			return nil, err
		}
		c.State.EIP = next + 1 + uint32(int32(int8(rel)))
		return nil, nil
	}
	rel, err := c.Mem.ReadU32(next)
	if err != nil {
		return nil, err
	}
	c.State.EIP = next + 4 + rel
	return nil, nil
}

// condTrue evaluates a Jcc/SETcc/CMOVcc condition code (low 4 bits of the
// opcode, shared across 70-7F, 0F 80-8F, 0F 90-9F, 0F 40-4F).
func (c *CPU) condTrue(cc byte) bool {
	s := c.State
	switch cc & 0xF {
	case 0x0:
		return s.OF // JO
	case 0x1:
		return !s.OF // JNO
	case 0x2:
		return s.CF // JB/JC
	case 0x3:
		return !s.CF // JAE/JNC
	case 0x4:
		return s.ZF // JE/JZ
	case 0x5:
		return !s.ZF // JNE/JNZ
	case 0x6:
		return s.CF || s.ZF // JBE
	case 0x7:
		return !s.CF && !s.ZF // JA
	case 0x8:
		return s.SF // JS
	case 0x9:
		return !s.SF // JNS
	case 0xA:
		return false // JP/JPE unmodeled (PF not tracked) — treated as never taken
	case 0xB:
		return true // JNP/JPO unmodeled — treated as always taken
	case 0xC:
		return s.SF != s.OF // JL
	case 0xD:
		return s.SF == s.OF // JGE
	case 0xE:
		return s.ZF || (s.SF != s.OF) // JLE
	case 0xF:
		return !s.ZF && (s.SF == s.OF) // JG
	}
	return false
}

// execJccShort handles Jcc rel8 (0x70-0x7F).
func (c *CPU) execJccShort(next uint32, opcode byte) (*ImportHit, error) {
	rel, err := c.Mem.ReadU8(next)
	if err != nil {
		return nil, err
	}
	after := next + 1
	if c.condTrue(opcode) {
		c.State.EIP = after + uint32(int32(int8(rel)))
	} else {
		c.State.EIP = after
	}
	return nil, nil
}

// execJccNear handles the 0F-extended Jcc rel32 (0F 80-0F 8F).
func (c *CPU) execJccNear(next uint32, ext byte) (*ImportHit, error) {
	rel, err := c.Mem.ReadU32(next)
	if err != nil {
		return nil, err
	}
	after := next + 4
	if c.condTrue(ext) {
		c.State.EIP = after + rel
	} else {
		c.State.EIP = after
	}
	return nil, nil
}

// execSetcc handles the 0F-extended SETcc r/m8 (0F 90-0F 9F).
func (c *CPU) execSetcc(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	v := uint32(0)
	if c.condTrue(ext) {
		v = 1
	}
	if err := c.writeOperand(m.RM_Operand, 8, v); err != nil {
		return nil, err
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execCmovcc handles the 0F-extended CMOVcc r32, r/m32 (0F 40-0F 4F).
func (c *CPU) execCmovcc(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	if c.condTrue(ext) {
		v, err := c.readOperand(m.RM_Operand, 32)
		if err != nil {
			return nil, err
		}
		c.State.Set32(cpustate.GPR(m.RegField), v)
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}
