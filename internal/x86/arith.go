package x86

import "github.com/xyproto/pevm/internal/cpustate"

// aluOp is one of the eight ALU operations that share an identical set of
// opcode-encoding shapes (00-3D block layout, and the /0../7 extension of
// Group1 80/81/83), spec.md §4.2 "ADD/OR/ADC/SBB/AND/SUB/XOR/CMP in all
// operand shapes".
type aluOp uint8

const (
	aluADD aluOp = 0
	aluOR  aluOp = 1
	aluADC aluOp = 2
	aluSBB aluOp = 3
	aluAND aluOp = 4
	aluSUB aluOp = 5
	aluXOR aluOp = 6
	aluCMP aluOp = 7
)

// applyALU computes op(a,b) at the given width, updates flags, and
// returns the result (the caller decides whether to store it — CMP/TEST
// discard it).
func (c *CPU) applyALU(op aluOp, a, b uint32, bits int) uint32 {
	s := c.State
	switch op {
	case aluADD:
		return setAddFlags(s, a, b, 0, bits)
	case aluADC:
		carry := uint32(0)
		if s.CF {
			carry = 1
		}
		return setAddFlags(s, a, b, carry, bits)
	case aluSUB, aluCMP:
		return setSubFlags(s, a, b, 0, bits)
	case aluSBB:
		borrow := uint32(0)
		if s.CF {
			borrow = 1
		}
		return setSubFlags(s, a, b, borrow, bits)
	case aluOR:
		return setLogicFlags(s, a|b, bits)
	case aluAND:
		return setLogicFlags(s, a&b, bits)
	case aluXOR:
		return setLogicFlags(s, a^b, bits)
	default:
		return 0
	}
}

// execALUBlock handles one 8-opcode block (e.g. 00-05 for ADD, 08-0D for
// OR, ...): /r r/m<-r, /r r<-r/m, AL<-imm8, eAX<-imm32.
func (c *CPU) execALUBlock(op aluOp, prefixes Prefixes, next uint32, opLow byte) (*ImportHit, error) {
	switch opLow {
	case 0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38: // op r/m8, r8
		return c.aluRM(op, prefixes, next, 8, true)
	case 0x01, 0x09, 0x11, 0x19, 0x21, 0x29, 0x31, 0x39: // op r/m32, r32 (or 16)
		return c.aluRM(op, prefixes, next, opWidth(true, prefixes), true)
	case 0x02, 0x0A, 0x12, 0x1A, 0x22, 0x2A, 0x32, 0x3A: // op r8, r/m8
		return c.aluRM(op, prefixes, next, 8, false)
	case 0x03, 0x0B, 0x13, 0x1B, 0x23, 0x2B, 0x33, 0x3B: // op r32, r/m32
		return c.aluRM(op, prefixes, next, opWidth(true, prefixes), false)
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C: // op AL, imm8
		imm, err := c.Mem.ReadU8(next)
		if err != nil {
			return nil, err
		}
		a := c.State.Get8(0)
		r := c.applyALU(op, uint32(a), uint32(imm), 8)
		if op != aluCMP {
			c.State.Set8(0, uint8(r))
		}
		c.State.EIP = next + 1
		return nil, nil
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D: // op eAX, imm32
		bits := opWidth(true, prefixes)
		immLen := uint32(4)
		if bits == 16 {
			immLen = 2
		}
		imm, err := c.readImm(next, int(immLen))
		if err != nil {
			return nil, err
		}
		a := c.State.Get32(cpustate.EAX)
		r := c.applyALU(op, a, imm, bits)
		if op != aluCMP {
			c.State.Set32(cpustate.EAX, r)
		}
		c.State.EIP = next + immLen
		return nil, nil
	}
	return nil, &UnsupportedOpcodeError{Opcode: opLow, EIP: c.State.EIP}
}

func (c *CPU) readImm(addr uint32, n int) (uint32, error) {
	switch n {
	case 1:
		v, err := c.Mem.ReadU8(addr)
		return uint32(int32(int8(v))), err
	case 2:
		v, err := c.Mem.ReadU16(addr)
		return uint32(int32(int16(v))), err
	default:
		return c.Mem.ReadU32(addr)
	}
}

// aluRM handles the /r forms: regIsDst selects whether the ModRM reg field
// is the destination (r/m <- r) or the source (r <- r/m).
func (c *CPU) aluRM(op aluOp, prefixes Prefixes, next uint32, bits int, regIsDst bool) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	regOp := regOperand(m.RegField)
	rmOp := m.RM_Operand

	var dst, src Operand
	if regIsDst {
		dst, src = rmOp, regOp
	} else {
		dst, src = regOp, rmOp
	}
	a, err := c.readOperand(dst, bits)
	if err != nil {
		return nil, err
	}
	b, err := c.readOperand(src, bits)
	if err != nil {
		return nil, err
	}
	r := c.applyALU(op, a, b, bits)
	if op != aluCMP {
		if err := c.writeOperand(dst, bits, r); err != nil {
			return nil, err
		}
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// aluOpForOpcode maps a primary ALU opcode (00-3F with low three bits 0-5)
// to its aluOp, op/8.
func aluOpForOpcode(op byte) (aluOp, bool) {
	block := op / 8
	if op >= 0x40 || (op&7) > 5 {
		return 0, false
	}
	if block > 7 {
		return 0, false
	}
	return aluOp(block), true
}

// execGroup1 handles 80/81/83: op r/m, imm — the ModRM reg field selects
// the aluOp (0..7), per spec.md "Group1 arith-imm".
func (c *CPU) execGroup1(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := 8
	if opcode != 0x80 {
		bits = opWidth(true, prefixes)
	}
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)

	var imm uint32
	switch opcode {
	case 0x80:
		v, err := c.Mem.ReadU8(after)
		if err != nil {
			return nil, err
		}
		imm = uint32(v)
		after++
	case 0x81:
		n := 4
		if bits == 16 {
			n = 2
		}
		v, err := c.readImm(after, n)
		if err != nil {
			return nil, err
		}
		imm = v
		after += uint32(n)
	case 0x83: // imm8 sign-extended to operand width
		v, err := c.Mem.ReadU8(after)
		if err != nil {
			return nil, err
		}
		imm = uint32(int32(int8(v)))
		after++
	}

	op := aluOp(m.RegField)
	a, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	r := c.applyALU(op, a, imm, bits)
	if op != aluCMP {
		if err := c.writeOperand(m.RM_Operand, bits, r); err != nil {
			return nil, err
		}
	}
	c.State.EIP = after
	return nil, nil
}

// execTest handles TEST r/m,r (84/85) and TEST AL/eAX,imm (A8/A9); the
// Group3 TEST r/m,imm (F6/F7 /0 /1) form is handled by execGroup3.
func (c *CPU) execTest(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	switch opcode {
	case 0x84, 0x85:
		bits := opWidth(opcode == 0x85, prefixes)
		m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
		if err != nil {
			return nil, err
		}
		a, err := c.readOperand(m.RM_Operand, bits)
		if err != nil {
			return nil, err
		}
		b, err := c.readOperand(regOperand(m.RegField), bits)
		if err != nil {
			return nil, err
		}
		setLogicFlags(c.State, a&b, bits)
		c.State.EIP = next + uint32(m.Len)
		return nil, nil
	case 0xA8, 0xA9:
		bits := opWidth(opcode == 0xA9, prefixes)
		n := 4
		if bits == 8 {
			n = 1
		} else if bits == 16 {
			n = 2
		}
		imm, err := c.readImm(next, n)
		if err != nil {
			return nil, err
		}
		a := c.State.Get32(cpustate.EAX)
		if bits == 8 {
			a = uint32(c.State.Get8(0))
		}
		setLogicFlags(c.State, a&imm, bits)
		c.State.EIP = next + uint32(n)
		return nil, nil
	}
	return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
}
