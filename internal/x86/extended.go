package x86

// execExtended dispatches the 0F-prefixed two-byte opcode map. start is
// the address of the 0x0F byte, next is right after the second opcode byte.
func (c *CPU) execExtended(prefixes Prefixes, start, next uint32, ext byte) (*ImportHit, error) {
	switch {
	case ext >= 0x40 && ext <= 0x4F:
		return c.execCmovcc(prefixes, next, ext)
	case ext >= 0x80 && ext <= 0x8F:
		return c.execJccNear(next, ext)
	case ext >= 0x90 && ext <= 0x9F:
		return c.execSetcc(prefixes, next, ext)
	}

	switch ext {
	case 0x01:
		modrm, err := c.Mem.ReadU8(next)
		if err != nil {
			return nil, err
		}
		if modrm == 0xD0 { // 0F 01 D0 = XGETBV
			return c.execXgetbv(next + 1)
		}
		return nil, &UnsupportedOpcodeError{Opcode: ext, Extended: true, EIP: start}
	case 0x1F: // multi-byte NOP, ModRM operand ignored
		m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
		if err != nil {
			return nil, err
		}
		c.State.EIP = next + uint32(m.Len)
		return nil, nil
	case 0xA2:
		return c.execCpuid(next)
	case 0xA3, 0xAB, 0xB3, 0xBB:
		return c.execBitOp(prefixes, next, ext)
	case 0xAF:
		return c.execImulRM(prefixes, next)
	case 0xB0, 0xB1:
		return c.execCmpxchg(prefixes, next, ext)
	case 0xB6, 0xB7, 0xBE, 0xBF:
		return c.execMovzxMovsx(prefixes, next, ext)
	case 0xC0, 0xC1:
		return c.execXadd(prefixes, next, ext)
	case 0x10, 0x11, 0x6E, 0x6F, 0x7E, 0x7F, 0xD6, 0x57, 0xEF, 0x60, 0x61, 0x70:
		return c.execSSE(prefixes, next, ext)
	}
	return nil, &UnsupportedOpcodeError{Opcode: ext, Extended: true, EIP: start}
}
