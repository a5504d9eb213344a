package com

import "encoding/binary"

// MSFT-format typelib parsing, spec.md §4.5 "ITypeLib/ITypeInfo", grounded
// near-verbatim on original_source/src/vm/windows/oleaut32/typelib.rs's
// parse_msft/parse_typeinfo/parse_funcs/resolve_vartype. Only SLTG-format
// (pre-OLE2) typelibs are unsupported, matching the original.

const (
	msftSignature   uint32 = 0x5446534D // "MSFT"
	sltgSignature   uint32 = 0x4754_4C53
	helpDLLFlag     uint32 = 0x0100
	typeInfoSize    int    = 0x64
	tkindAlias      uint32 = 6
	vtTypeMask      uint32 = 0x0FFF
	vtPtr           uint16 = 0x1A
	vtUserDefined   uint16 = 0x1D
	vtByRef         uint16 = 0x4000
)

// TypeLib is a parsed MSFT type library: its own GUID plus its TypeInfo
// entries. IDispatch::Invoke (dispatch.go) does not consult it: methods
// are always called by the dispid the caller passes, never by name.
type TypeLib struct {
	GUID      [16]byte
	TypeInfos []TypeInfoData
}

type TypeInfoData struct {
	GUID        [16]byte
	TypeKind    uint32
	CFuncs      uint16
	CVars       uint16
	CImplTypes  uint16
	CbSizeVft   uint16
	Flags       uint32
	Funcs       []FuncDesc
}

type FuncDesc struct {
	MemID        uint32
	InvKind      uint16
	CallConv     uint16
	VtableOffset uint16
	RetVT        uint16
	Params       []ParamDesc
}

type ParamDesc struct {
	VT    uint16
	Flags uint32
}

// TypeInfo is the handle-table payload for a single TypeInfo entry within
// a TypeLib.
type TypeInfo = TypeInfoData

type typeDescEntry struct {
	data int32
	vt   uint16
}

type segEntry struct {
	offset uint32
	length uint32
}

type segDir struct {
	typeInfoTab segEntry
	guidTab     segEntry
	typDescTab  segEntry
}

// InvalidTypeLibError reports a malformed or unsupported typelib blob.
type InvalidTypeLibError struct{ Msg string }

func (e *InvalidTypeLibError) Error() string { return "invalid typelib: " + e.Msg }

// loadTypeLibForObject looks for the just-loaded in-proc server's embedded
// RT_TYPELIB resource, parses it, and registers it (plus each TypeInfo it
// contains) in the Runtime's handle tables. A server with no typelib
// resource (or an unparseable one) is not an error: plenty of in-proc
// objects expose IDispatch without ever registering a type library.
// Method dispatch is dispid-only with or without a typelib.
func (r *Runtime) loadTypeLibForObject(h Host, iDispatch uint32) *TypeLib {
	data, ok := h.TypeLibResource()
	if !ok {
		return nil
	}
	tl, err := ParseMSFT(data)
	if err != nil {
		h.TraceCOMf("typelib parse failed for IDispatch=0x%08X: %v", iDispatch, err)
		return nil
	}
	r.typeLibs.Alloc(tl)
	for i := range tl.TypeInfos {
		r.typeInfos.Alloc(&tl.TypeInfos[i])
	}
	return tl
}

// ParseMSFT parses a standalone MSFT-signature typelib blob (either a
// `.tlb` file's contents or an extracted TYPELIB resource body).
func ParseMSFT(data []byte) (*TypeLib, error) {
	if len(data) < 4 {
		return nil, &InvalidTypeLibError{Msg: "too short"}
	}
	magic := binary.LittleEndian.Uint32(data)
	if magic == sltgSignature {
		return nil, &InvalidTypeLibError{Msg: "SLTG typelibs not supported"}
	}
	if magic != msftSignature {
		return nil, &InvalidTypeLibError{Msg: "invalid MSFT signature"}
	}

	r := reader{data: data}
	varflags, err := r.u32(0x14)
	if err != nil {
		return nil, err
	}
	nrTypeInfos64, err := r.u32(0x20)
	if err != nil {
		return nil, err
	}
	nrTypeInfos := int(nrTypeInfos64)
	posGUID, err := r.i32(0x08)
	if err != nil {
		return nil, err
	}
	segdirOffset := 0x54 + nrTypeInfos*4
	if varflags&helpDLLFlag != 0 {
		segdirOffset += 4
	}

	sd, err := readSegDir(&r, segdirOffset)
	if err != nil {
		return nil, err
	}
	typeDescs, err := readTypDescTable(&r, sd)
	if err != nil {
		return nil, err
	}

	aliases := make([]*uint16, nrTypeInfos)
	for i := range aliases {
		entryOffset := int(sd.typeInfoTab.offset) + i*typeInfoSize
		typekind32, err := r.u32(entryOffset)
		if err != nil {
			return nil, err
		}
		if typekind32&0xF != tkindAlias {
			continue
		}
		dataType1, err := r.i32(entryOffset + 0x54)
		if err != nil {
			continue
		}
		vt, err := resolveVartype(dataType1, typeDescs, nil)
		if err == nil {
			v := vt
			aliases[i] = &v
		}
	}

	typeInfos := make([]TypeInfoData, 0, nrTypeInfos)
	for i := 0; i < nrTypeInfos; i++ {
		entryOffset := int(sd.typeInfoTab.offset) + i*typeInfoSize
		ti, err := parseTypeInfo(&r, sd, typeDescs, aliases, entryOffset)
		if err != nil {
			return nil, err
		}
		typeInfos = append(typeInfos, ti)
	}

	guid, _ := readGUID(&r, sd, posGUID)
	return &TypeLib{GUID: guid, TypeInfos: typeInfos}, nil
}

func parseTypeInfo(r *reader, sd segDir, typeDescs []typeDescEntry, aliases []*uint16, offset int) (TypeInfoData, error) {
	typekind, err := r.u32(offset)
	if err != nil {
		return TypeInfoData{}, err
	}
	memOffset, err := r.i32(offset + 4)
	if err != nil {
		return TypeInfoData{}, err
	}
	cElement, err := r.u32(offset + 0x18)
	if err != nil {
		return TypeInfoData{}, err
	}
	posGUID, err := r.i32(offset + 0x2C)
	if err != nil {
		return TypeInfoData{}, err
	}
	flags, err := r.u32(offset + 0x30)
	if err != nil {
		return TypeInfoData{}, err
	}
	cFuncs := uint16(cElement & 0xFFFF)
	cVars := uint16(cElement >> 16)
	cImplTypes, err := r.u16(offset + 0x4C)
	if err != nil {
		return TypeInfoData{}, err
	}
	cbSizeVft, err := r.u16(offset + 0x4E)
	if err != nil {
		return TypeInfoData{}, err
	}
	guid, _ := readGUID(r, sd, posGUID)

	var funcs []FuncDesc
	if cFuncs > 0 && memOffset > 0 {
		funcs, err = parseFuncs(r, int(memOffset), cFuncs, typeDescs, aliases)
		if err != nil {
			return TypeInfoData{}, err
		}
	}
	return TypeInfoData{
		GUID:       guid,
		TypeKind:   typekind & 0xF,
		CFuncs:     cFuncs,
		CVars:      cVars,
		CImplTypes: cImplTypes,
		CbSizeVft:  cbSizeVft,
		Flags:      flags,
		Funcs:      funcs,
	}, nil
}

func parseFuncs(r *reader, offset int, cFuncs uint16, typeDescs []typeDescEntry, aliases []*uint16) ([]FuncDesc, error) {
	infolen32, err := r.u32(offset)
	if err != nil {
		return nil, err
	}
	infolen := int(infolen32)
	recOffset := offset + 4
	funcs := make([]FuncDesc, 0, cFuncs)
	for i := 0; i < int(cFuncs); i++ {
		info, err := r.u32(recOffset)
		if err != nil {
			return nil, err
		}
		recLength := int(info & 0xFFFF)
		dataType, err := r.i32(recOffset + 4)
		if err != nil {
			return nil, err
		}
		vtableOffset, err := r.u16(recOffset + 12)
		if err != nil {
			return nil, err
		}
		fkccic, err := r.u32(recOffset + 16)
		if err != nil {
			return nil, err
		}
		nrargs16, err := r.u16(recOffset + 20)
		if err != nil {
			return nil, err
		}
		nrargs := int(nrargs16)

		memIDOffset := offset + infolen + (i+1)*4
		memid, err := r.u32(memIDOffset)
		if err != nil {
			return nil, err
		}

		invkind := uint16((fkccic >> 3) & 0xF)
		callconv := uint16((fkccic >> 8) & 0xF)
		retVT, err := resolveVartype(dataType, typeDescs, aliases)
		if err != nil {
			return nil, err
		}

		paramsOffset := recOffset + recLength - nrargs*12
		params := make([]ParamDesc, 0, nrargs)
		for idx := 0; idx < nrargs; idx++ {
			base := paramsOffset + idx*12
			paramType, err := r.i32(base)
			if err != nil {
				return nil, err
			}
			flags, err := r.u32(base + 8)
			if err != nil {
				return nil, err
			}
			vt, err := resolveVartype(paramType, typeDescs, aliases)
			if err != nil {
				return nil, err
			}
			params = append(params, ParamDesc{VT: vt, Flags: flags})
		}

		funcs = append(funcs, FuncDesc{
			MemID:        memid,
			InvKind:      invkind,
			CallConv:     callconv,
			VtableOffset: vtableOffset &^ 1,
			RetVT:        retVT,
			Params:       params,
		})
		recOffset += recLength
	}
	return funcs, nil
}

func resolveVartype(dataType int32, typeDescs []typeDescEntry, aliases []*uint16) (uint16, error) {
	if dataType < 0 {
		return uint16(uint32(dataType) & vtTypeMask), nil
	}
	idx := int(dataType) / 8
	if idx < 0 || idx >= len(typeDescs) {
		return vtUserDefined, nil
	}
	entry := typeDescs[idx]
	switch entry.vt {
	case vtPtr:
		target, err := resolveVartype(entry.data, typeDescs, aliases)
		if err != nil {
			return 0, err
		}
		return target | vtByRef, nil
	case vtUserDefined:
		if entry.data&3 == 0 {
			index := int(entry.data) / typeInfoSize
			if index >= 0 && index < len(aliases) && aliases[index] != nil {
				return *aliases[index], nil
			}
		}
		return vtUserDefined, nil
	default:
		return entry.vt, nil
	}
}

func readTypDescTable(r *reader, sd segDir) ([]typeDescEntry, error) {
	offset := int(sd.typDescTab.offset)
	length := int(sd.typDescTab.length)
	if offset == 0 || length == 0 {
		return nil, nil
	}
	count := length / 8
	out := make([]typeDescEntry, 0, count)
	for i := 0; i < count; i++ {
		base := offset + i*8
		data, err := r.i32(base)
		if err != nil {
			return nil, err
		}
		vtRaw, err := r.u32(base + 4)
		if err != nil {
			return nil, err
		}
		out = append(out, typeDescEntry{data: data, vt: uint16(vtRaw & 0xFFFF)})
	}
	return out, nil
}

func readGUID(r *reader, sd segDir, offset int32) ([16]byte, bool) {
	var guid [16]byte
	if offset < 0 {
		return guid, false
	}
	base := int(sd.guidTab.offset) + int(offset)
	for i := range guid {
		b, err := r.u8(base + i)
		if err != nil {
			return guid, false
		}
		guid[i] = b
	}
	return guid, true
}

func readSegDir(r *reader, offset int) (segDir, error) {
	typeInfoTab, err := readSegEntry(r, offset)
	if err != nil {
		return segDir{}, err
	}
	guidTab, err := readSegEntry(r, offset+5*16)
	if err != nil {
		return segDir{}, err
	}
	typDescTab, err := readSegEntry(r, offset+10*16)
	if err != nil {
		return segDir{}, err
	}
	return segDir{typeInfoTab: typeInfoTab, guidTab: guidTab, typDescTab: typDescTab}, nil
}

func readSegEntry(r *reader, offset int) (segEntry, error) {
	off, err := r.u32(offset)
	if err != nil {
		return segEntry{}, err
	}
	length, err := r.u32(offset + 4)
	if err != nil {
		return segEntry{}, err
	}
	return segEntry{offset: off, length: length}, nil
}

// OutOfRangeError reports a typelib reader access past the blob's end.
type OutOfRangeError struct{}

func (e *OutOfRangeError) Error() string { return "typelib offset out of range" }

type reader struct{ data []byte }

func (r *reader) u8(offset int) (byte, error) {
	if offset < 0 || offset >= len(r.data) {
		return 0, &OutOfRangeError{}
	}
	return r.data[offset], nil
}

func (r *reader) u16(offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(r.data) {
		return 0, &OutOfRangeError{}
	}
	return binary.LittleEndian.Uint16(r.data[offset:]), nil
}

func (r *reader) u32(offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(r.data) {
		return 0, &OutOfRangeError{}
	}
	return binary.LittleEndian.Uint32(r.data[offset:]), nil
}

func (r *reader) i32(offset int) (int32, error) {
	v, err := r.u32(offset)
	return int32(v), err
}
