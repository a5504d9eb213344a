package x86

import "github.com/xyproto/pevm/internal/cpustate"

// strideFor returns the per-iteration ESI/EDI/EAX step (+width, or -width
// when DF is set), spec.md §4.2 "string ops MOVS/STOS/SCAS with REP+DF".
func (c *CPU) strideFor(bits int) int32 {
	w := int32(bits / 8)
	if c.State.DF {
		return -w
	}
	return w
}

// execStringOp dispatches the A4-AF string-instruction block. REP (0xF3)
// repeats MOVS/STOS/LODS while ECX != 0; REP/REPE (0xF3) and REPNE (0xF2)
// additionally gate CMPS/SCAS on ZF.
func (c *CPU) execStringOp(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := opWidth(opcode&1 == 1, prefixes)
	repeated := prefixes.Rep || prefixes.RepNZ
	checksZF := opcode == 0xA6 || opcode == 0xA7 || opcode == 0xAE || opcode == 0xAF

	runOnce := func() (bool, error) {
		switch opcode &^ 1 {
		case 0xA4: // MOVSB/MOVSD
			esi := c.State.Get32(cpustate.ESI)
			edi := c.State.Get32(cpustate.EDI)
			v, err := c.readOperand(Operand{IsMem: true, Addr: esi}, bits)
			if err != nil {
				return false, err
			}
			if err := c.writeOperand(Operand{IsMem: true, Addr: edi}, bits, v); err != nil {
				return false, err
			}
			stride := uint32(c.strideFor(bits))
			c.State.Set32(cpustate.ESI, esi+stride)
			c.State.Set32(cpustate.EDI, edi+stride)
			return true, nil
		case 0xA6: // CMPSB/CMPSD
			esi := c.State.Get32(cpustate.ESI)
			edi := c.State.Get32(cpustate.EDI)
			a, err := c.readOperand(Operand{IsMem: true, Addr: esi}, bits)
			if err != nil {
				return false, err
			}
			b, err := c.readOperand(Operand{IsMem: true, Addr: edi}, bits)
			if err != nil {
				return false, err
			}
			setSubFlags(c.State, a, b, 0, bits)
			stride := uint32(c.strideFor(bits))
			c.State.Set32(cpustate.ESI, esi+stride)
			c.State.Set32(cpustate.EDI, edi+stride)
			return true, nil
		case 0xAA: // STOSB/STOSD
			edi := c.State.Get32(cpustate.EDI)
			v := c.State.Get32(cpustate.EAX)
			if err := c.writeOperand(Operand{IsMem: true, Addr: edi}, bits, v); err != nil {
				return false, err
			}
			c.State.Set32(cpustate.EDI, edi+uint32(c.strideFor(bits)))
			return true, nil
		case 0xAC: // LODSB/LODSD
			esi := c.State.Get32(cpustate.ESI)
			v, err := c.readOperand(Operand{IsMem: true, Addr: esi}, bits)
			if err != nil {
				return false, err
			}
			if bits == 8 {
				c.State.Set8(0, uint8(v))
			} else {
				c.State.Set32(cpustate.EAX, v)
			}
			c.State.Set32(cpustate.ESI, esi+uint32(c.strideFor(bits)))
			return true, nil
		case 0xAE: // SCASB/SCASD
			edi := c.State.Get32(cpustate.EDI)
			a := c.State.Get32(cpustate.EAX)
			if bits == 8 {
				a = uint32(c.State.Get8(0))
			}
			b, err := c.readOperand(Operand{IsMem: true, Addr: edi}, bits)
			if err != nil {
				return false, err
			}
			setSubFlags(c.State, a, b, 0, bits)
			c.State.Set32(cpustate.EDI, edi+uint32(c.strideFor(bits)))
			return true, nil
		}
		return false, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
	}

	if !repeated {
		if _, err := runOnce(); err != nil {
			return nil, err
		}
		c.State.EIP = next
		return nil, nil
	}

	wantZF := prefixes.Rep // REPE/REPZ wants ZF=1 to continue; REPNE wants ZF=0
	for {
		ecx := c.State.Get32(cpustate.ECX)
		if ecx == 0 {
			break
		}
		if _, err := runOnce(); err != nil {
			return nil, err
		}
		ecx--
		c.State.Set32(cpustate.ECX, ecx)
		if ecx == 0 {
			break
		}
		if checksZF && c.State.ZF != wantZF {
			break
		}
	}
	c.State.EIP = next
	return nil, nil
}
