package x86

// xmmOperand is a decoded XMM register-or-memory operand; memory forms
// reuse the ModRM machinery, register forms index State.XMM directly.
type xmmOperand struct {
	isMem bool
	reg   uint8
	addr  uint32
}

func xmmFromModRM(m ModRM) xmmOperand {
	if m.RM_Operand.IsMem {
		return xmmOperand{isMem: true, addr: m.RM_Operand.Addr}
	}
	return xmmOperand{isMem: false, reg: m.RM}
}

func (c *CPU) readXMM(o xmmOperand) ([16]byte, error) {
	if !o.isMem {
		return c.State.XMM[o.reg&7], nil
	}
	var buf [16]byte
	raw, err := c.Mem.ReadBytes(o.addr, 16)
	if err != nil {
		return buf, err
	}
	copy(buf[:], raw)
	return buf, nil
}

func (c *CPU) writeXMM(o xmmOperand, v [16]byte) error {
	if !o.isMem {
		c.State.XMM[o.reg&7] = v
		return nil
	}
	return c.Mem.WriteBytes(o.addr, v[:])
}

// execSSE handles the 0F-extended "practical SSE subset" named in
// spec.md §4.2: MOVD/MOVQ, MOVDQA/MOVDQU, MOVUPS, XORPS, PXOR,
// PUNPCKLBW/PUNPCKLWD, PSHUFD.
func (c *CPU) execSSE(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)
	xo := xmmFromModRM(m)
	xmmReg := m.RegField

	switch ext {
	case 0x10, 0x11: // MOVUPS xmm,xmm/m128 (0x10) and reverse (0x11)
		if ext == 0x10 {
			v, err := c.readXMM(xo)
			if err != nil {
				return nil, err
			}
			c.State.XMM[xmmReg] = v
		} else {
			if err := c.writeXMM(xo, c.State.XMM[xmmReg]); err != nil {
				return nil, err
			}
		}
	case 0x6F, 0x7F: // MOVDQA/MOVDQU xmm,xmm/m128 (6F) and reverse (7F)
		if ext == 0x6F {
			v, err := c.readXMM(xo)
			if err != nil {
				return nil, err
			}
			c.State.XMM[xmmReg] = v
		} else {
			if err := c.writeXMM(xo, c.State.XMM[xmmReg]); err != nil {
				return nil, err
			}
		}
	case 0x6E: // MOVD xmm, r/m32 — zero-extends into the low dword
		v, err := c.readOperand(m.RM_Operand, 32)
		if err != nil {
			return nil, err
		}
		var buf [16]byte
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		c.State.XMM[xmmReg] = buf
	case 0x7E: // MOVD r/m32, xmm (low dword only)
		v := c.State.XMM[xmmReg]
		dword := uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
		if err := c.writeOperand(m.RM_Operand, 32, dword); err != nil {
			return nil, err
		}
	case 0xD6: // MOVQ xmm/m64, xmm (low qword only; the register form zeroes the destination's high qword)
		v := c.State.XMM[xmmReg]
		if m.RM_Operand.IsMem {
			if err := c.Mem.WriteBytes(m.RM_Operand.Addr, v[:8]); err != nil {
				return nil, err
			}
		} else {
			var buf [16]byte
			copy(buf[:8], v[:8])
			c.State.XMM[m.RM] = buf
		}
	case 0x57: // XORPS xmm, xmm/m128
		src, err := c.readXMM(xo)
		if err != nil {
			return nil, err
		}
		var dst [16]byte
		for i := range dst {
			dst[i] = c.State.XMM[xmmReg][i] ^ src[i]
		}
		c.State.XMM[xmmReg] = dst
	case 0xEF: // PXOR xmm, xmm/m128
		src, err := c.readXMM(xo)
		if err != nil {
			return nil, err
		}
		var dst [16]byte
		for i := range dst {
			dst[i] = c.State.XMM[xmmReg][i] ^ src[i]
		}
		c.State.XMM[xmmReg] = dst
	case 0x60: // PUNPCKLBW xmm, xmm/m128 (low 8 bytes interleaved)
		src, err := c.readXMM(xo)
		if err != nil {
			return nil, err
		}
		dst := c.State.XMM[xmmReg]
		var out [16]byte
		for i := 0; i < 8; i++ {
			out[2*i] = dst[i]
			out[2*i+1] = src[i]
		}
		c.State.XMM[xmmReg] = out
	case 0x61: // PUNPCKLWD xmm, xmm/m128 (low 4 words interleaved)
		src, err := c.readXMM(xo)
		if err != nil {
			return nil, err
		}
		dst := c.State.XMM[xmmReg]
		var out [16]byte
		for i := 0; i < 4; i++ {
			out[4*i] = dst[2*i]
			out[4*i+1] = dst[2*i+1]
			out[4*i+2] = src[2*i]
			out[4*i+3] = src[2*i+1]
		}
		c.State.XMM[xmmReg] = out
	case 0x70: // PSHUFD xmm, xmm/m128, imm8
		src, err := c.readXMM(xo)
		if err != nil {
			return nil, err
		}
		order, err := c.Mem.ReadU8(after)
		if err != nil {
			return nil, err
		}
		after++
		var out [16]byte
		for i := 0; i < 4; i++ {
			sel := (order >> uint(2*i)) & 3
			copy(out[4*i:4*i+4], src[4*sel:4*sel+4])
		}
		c.State.XMM[xmmReg] = out
	default:
		return nil, &UnsupportedOpcodeError{Opcode: ext, Extended: true, EIP: c.State.EIP}
	}
	c.State.EIP = after
	return nil, nil
}
