package x86

import "github.com/xyproto/pevm/internal/cpustate"

// execCpuid handles the 0F-extended CPUID (0F A2): returns a fixed,
// minimal feature vector — enough for guest code that merely probes for
// SSE2 before using it, spec.md §4.2 "CPUID".
func (c *CPU) execCpuid(next uint32) (*ImportHit, error) {
	leaf := c.State.Get32(cpustate.EAX)
	switch leaf {
	case 0:
		c.State.Set32(cpustate.EAX, 1)
		c.State.Set32(cpustate.EBX, 0x756E6547) // "Genu"
		c.State.Set32(cpustate.EDX, 0x49656E69) // "ineI"
		c.State.Set32(cpustate.ECX, 0x6C65746E) // "ntel"
	default: // leaf 1: family/model/stepping + feature flags (SSE/SSE2 set)
		c.State.Set32(cpustate.EAX, 0x000006F6)
		c.State.Set32(cpustate.EBX, 0)
		c.State.Set32(cpustate.ECX, 0x00000000)
		c.State.Set32(cpustate.EDX, 0x07808001) // bit0 FPU, bit23 MMX, bit25 SSE, bit26 SSE2
	}
	c.State.EIP = next
	return nil, nil
}

// execXgetbv handles the 0F-extended XGETBV (0F 01 D0): reports that only
// the x87/SSE state components are enabled, matching this interpreter's
// "practical SSE subset" scope.
func (c *CPU) execXgetbv(next uint32) (*ImportHit, error) {
	c.State.Set32(cpustate.EAX, 0x3)
	c.State.Set32(cpustate.EDX, 0)
	c.State.EIP = next
	return nil, nil
}

// execBitOp handles the 0F-extended BT/BTS/BTR/BTC r/m,r (0F A3/AB/B3/BB).
func (c *CPU) execBitOp(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	bits := opWidth(true, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	idx, err := c.readOperand(regOperand(m.RegField), bits)
	if err != nil {
		return nil, err
	}
	bitNum := idx % uint32(bits)
	v, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	c.State.CF = v&(1<<bitNum) != 0

	var result uint32
	switch ext {
	case 0xA3: // BT: no write
		c.State.EIP = next + uint32(m.Len)
		return nil, nil
	case 0xAB: // BTS
		result = v | (1 << bitNum)
	case 0xB3: // BTR
		result = v &^ (1 << bitNum)
	case 0xBB: // BTC
		result = v ^ (1 << bitNum)
	}
	if err := c.writeOperand(m.RM_Operand, bits, result); err != nil {
		return nil, err
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execCmpxchg handles the 0F-extended CMPXCHG r/m,r (0F B0/B1): compares
// EAX/AL with r/m; on equality r/m<-src, else EAX/AL<-r/m.
func (c *CPU) execCmpxchg(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	bits := 8
	if ext == 0xB1 {
		bits = opWidth(true, prefixes)
	}
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	acc := c.State.Get32(cpustate.EAX)
	if bits == 8 {
		acc = uint32(c.State.Get8(0))
	}
	dst, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	setSubFlags(c.State, acc, dst, 0, bits)
	if mask(acc, bits) == mask(dst, bits) {
		src, err := c.readOperand(regOperand(m.RegField), bits)
		if err != nil {
			return nil, err
		}
		if err := c.writeOperand(m.RM_Operand, bits, src); err != nil {
			return nil, err
		}
	} else {
		if bits == 8 {
			c.State.Set8(0, uint8(dst))
		} else {
			c.State.Set32(cpustate.EAX, dst)
		}
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execXadd handles the 0F-extended XADD r/m,r (0F C0/C1): r/m,r <- r/m+r,
// old r/m, in that order (src gets the old dest value).
func (c *CPU) execXadd(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	bits := 8
	if ext == 0xC1 {
		bits = opWidth(true, prefixes)
	}
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	dst, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	src, err := c.readOperand(regOperand(m.RegField), bits)
	if err != nil {
		return nil, err
	}
	sum := setAddFlags(c.State, dst, src, 0, bits)
	if err := c.writeOperand(m.RM_Operand, bits, sum); err != nil {
		return nil, err
	}
	if err := c.writeOperand(regOperand(m.RegField), bits, dst); err != nil {
		return nil, err
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execImulRM handles the 0F-extended IMUL r32, r/m32 (0F AF): two-operand
// signed multiply, result truncated into the register operand.
func (c *CPU) execImulRM(prefixes Prefixes, next uint32) (*ImportHit, error) {
	bits := opWidth(true, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	a, err := c.readOperand(regOperand(m.RegField), bits)
	if err != nil {
		return nil, err
	}
	b, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	wide := int64(int32(a)) * int64(int32(b))
	result := mask(uint32(wide), bits)
	overflow := wide != int64(int32(result))
	c.State.CF = overflow
	c.State.OF = overflow
	c.State.Set32(cpustate.GPR(m.RegField), result)
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execImulImm handles IMUL r32, r/m32, imm (0x69 imm32, 0x6B imm8).
func (c *CPU) execImulImm(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := opWidth(true, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)
	var imm uint32
	if opcode == 0x69 {
		v, err := c.Mem.ReadU32(after)
		if err != nil {
			return nil, err
		}
		imm = v
		after += 4
	} else {
		v, err := c.Mem.ReadU8(after)
		if err != nil {
			return nil, err
		}
		imm = uint32(int32(int8(v)))
		after++
	}
	b, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	wide := int64(int32(b)) * int64(int32(imm))
	result := mask(uint32(wide), bits)
	overflow := wide != int64(int32(result))
	c.State.CF = overflow
	c.State.OF = overflow
	c.State.Set32(cpustate.GPR(m.RegField), result)
	c.State.EIP = after
	return nil, nil
}
