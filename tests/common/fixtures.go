// Package common builds synthetic PE32 images for the integration tests
// in the parent tests/ tree, grounded on original_source/tests/common's
// build_test_dll and original_source/tests/ws2_32.rs's
// build_ws2_32_ordinal_dll: a minimal DOS+PE header, one .text and one
// .rdata section, a hand-laid-out export directory, and a one-entry
// import descriptor, all at fixed file offsets rather than routed
// through a real linker.
package common

import "encoding/binary"

const (
	ImageBase        = 0x0040_0000
	FileAlignment    = 0x200
	SectionAlignment = 0x1000
	TextRVA          = 0x1000
	RdataRVA         = 0x2000
	TextRaw          = 0x200
	RdataRaw         = 0x400
	TextRawSize      = 0x200
	RdataRawSize     = 0x400
	SizeOfHeaders    = 0x200
	SizeOfImage      = 0x4000
)

func putU16(b []byte, off int, v uint16)    { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32)    { binary.LittleEndian.PutUint32(b[off:], v) }
func putBytes(b []byte, off int, s []byte)  { copy(b[off:], s) }
func cstr(s string) []byte                  { return append([]byte(s), 0) }

func putSection(b []byte, off int, name string, virtualSize, virtualAddr, rawSize, rawPtr, characteristics uint32) {
	var n [8]byte
	copy(n[:], name)
	putBytes(b, off, n[:])
	putU32(b, off+8, virtualSize)
	putU32(b, off+12, virtualAddr)
	putU32(b, off+16, rawSize)
	putU32(b, off+20, rawPtr)
	putU32(b, off+36, characteristics)
}

// Export is one entry of a test image's export table.
type Export struct {
	Name string
	RVA  uint32
}

// Image is everything needed to lay out a one-section-pair test DLL: the
// .text bytes a caller has already assembled by hand, the export(s) that
// section exposes, and the single import (DLL, name-or-ordinal) every
// builder below wires through one import descriptor.
type Image struct {
	Code          []byte
	Exports       []Export
	ImportDLL     string
	ImportName    string // empty when ImportOrdinal != 0
	ImportOrdinal uint16
	ExtraRdata    []byte // appended right after the import's DLL name string
	ImageBase     uint32 // 0 uses the ImageBase constant
}

// exportLayout is the set of rdata offsets the export directory and its
// three parallel arrays (EAT/ENT/EOT) occupy, sized for n exports.
type exportLayout struct {
	dirOff, eatOff, entOff, eotOff, namesOff int
	size                                     int
}

func layoutExports(n int) exportLayout {
	dirOff := 0x00
	eatOff := 0x28
	entOff := eatOff + n*4
	eotOff := entOff + n*4
	namesOff := eotOff + n*2
	if namesOff%4 != 0 {
		namesOff += 2 // keep the names block dword-aligned
	}
	return exportLayout{dirOff, eatOff, entOff, eotOff, namesOff, namesOff}
}

// Build lays out img as a PE32 DLL image the way original_source's
// build_test_dll/build_ws2_32_ordinal_dll do: DOS/PE/file/optional
// headers, two sections, an export directory with one entry per
// img.Exports, and one import descriptor bound either by name or by
// ordinal depending on whether ImportOrdinal is set.
func Build(img Image) []byte {
	base := img.ImageBase
	if base == 0 {
		base = ImageBase
	}

	layout := layoutExports(len(img.Exports))
	dllNameOff := layout.namesOff
	for _, e := range img.Exports {
		dllNameOff += len(e.Name) + 1
	}
	importBlockOff := (dllNameOff + 3) &^ 3 // dword-align the import block that follows export names
	dllNameStrOff := importBlockOff + 0x38 + importTailSize(img)
	extraOff := dllNameStrOff + len(img.ImportDLL) + 1

	total := RdataRaw + extraOff + len(img.ExtraRdata)
	if total < RdataRaw+RdataRawSize {
		total = RdataRaw + RdataRawSize
	}
	out := make([]byte, total)

	// DOS header.
	out[0], out[1] = 'M', 'Z'
	putU32(out, 0x3C, 0x80)

	// PE signature.
	const peOff = 0x80
	putBytes(out, peOff, []byte("PE\x00\x00"))

	// File header.
	fileOff := peOff + 4
	putU16(out, fileOff+0, 0x14C) // machine x86
	putU16(out, fileOff+2, 2)     // number of sections
	putU16(out, fileOff+16, 0xE0) // size of optional header
	putU16(out, fileOff+18, 0x210E)

	// Optional header (PE32).
	optOff := fileOff + 20
	putU16(out, optOff+0x00, 0x10B)
	putU32(out, optOff+0x04, TextRawSize)
	putU32(out, optOff+0x08, RdataRawSize)
	putU32(out, optOff+0x10, TextRVA) // AddressOfEntryPoint
	putU32(out, optOff+0x14, TextRVA)
	putU32(out, optOff+0x18, RdataRVA)
	putU32(out, optOff+0x1C, base)
	putU32(out, optOff+0x20, SectionAlignment)
	putU32(out, optOff+0x24, FileAlignment)
	putU16(out, optOff+0x28, 4)
	putU16(out, optOff+0x30, 4)
	putU32(out, optOff+0x38, SizeOfImage)
	putU32(out, optOff+0x3C, SizeOfHeaders)
	putU16(out, optOff+0x44, 3) // subsystem CUI
	putU32(out, optOff+0x48, 0x0010_0000)
	putU32(out, optOff+0x4C, 0x0000_1000)
	putU32(out, optOff+0x50, 0x0010_0000)
	putU32(out, optOff+0x54, 0x0000_1000)
	putU32(out, optOff+0x5C, 16) // NumberOfRvaAndSizes

	dataDirOff := optOff + 0x60
	putU32(out, dataDirOff+0x00, RdataRVA+uint32(layout.dirOff)) // export table
	putU32(out, dataDirOff+0x04, 0x40)
	putU32(out, dataDirOff+0x08, RdataRVA+uint32(importBlockOff)) // import table
	putU32(out, dataDirOff+0x0C, 0x28)

	// Section headers.
	sectOff := optOff + 0xE0
	putSection(out, sectOff, ".text", 0x100, TextRVA, TextRawSize, TextRaw, 0x6000_0020)
	putSection(out, sectOff+40, ".rdata", uint32(total-RdataRaw), RdataRVA, uint32(total-RdataRaw), RdataRaw, 0x4000_0040)

	// .text code, caller-supplied.
	copy(out[TextRaw:], img.Code)

	// Export directory + EAT/ENT/EOT + name strings.
	rd := RdataRaw
	n := len(img.Exports)
	dllDirNameOff := layout.namesOff + sumNameLens(img.Exports)
	putU32(out, rd+layout.dirOff+0x0C, RdataRVA+uint32(dllDirNameOff)) // Name (the exporting module's own name)
	putU32(out, rd+layout.dirOff+0x10, 1)                              // Base
	putU32(out, rd+layout.dirOff+0x14, uint32(n))                      // NumberOfFunctions
	putU32(out, rd+layout.dirOff+0x18, uint32(n))                      // NumberOfNames
	putU32(out, rd+layout.dirOff+0x1C, RdataRVA+uint32(layout.eatOff))
	putU32(out, rd+layout.dirOff+0x20, RdataRVA+uint32(layout.entOff))
	putU32(out, rd+layout.dirOff+0x24, RdataRVA+uint32(layout.eotOff))

	nameOff := layout.namesOff
	for i, e := range img.Exports {
		putU32(out, rd+layout.eatOff+i*4, e.RVA)
		putU32(out, rd+layout.entOff+i*4, RdataRVA+uint32(nameOff))
		putU16(out, rd+layout.eotOff+i*2, uint16(i))
		putBytes(out, rd+nameOff, cstr(e.Name))
		nameOff += len(e.Name) + 1
	}
	putBytes(out, rd+dllDirNameOff, cstr("test.dll"))

	// Import descriptor: OriginalFirstThunk/FirstThunk/Name, then the
	// ILT/IAT pair and (if bound by name) the hint/name entry.
	putU32(out, rd+importBlockOff+0x00, RdataRVA+uint32(importBlockOff+0x28)) // OriginalFirstThunk
	putU32(out, rd+importBlockOff+0x0C, RdataRVA+uint32(dllNameStrOff))       // Name
	putU32(out, rd+importBlockOff+0x10, RdataRVA+uint32(importBlockOff+0x30)) // FirstThunk

	if img.ImportOrdinal != 0 {
		putU32(out, rd+importBlockOff+0x28, 0x8000_0000|uint32(img.ImportOrdinal))
	} else {
		putU32(out, rd+importBlockOff+0x28, RdataRVA+uint32(importBlockOff+0x38))
		putU16(out, rd+importBlockOff+0x38, 0)
		putBytes(out, rd+importBlockOff+0x3A, cstr(img.ImportName))
	}
	putU32(out, rd+importBlockOff+0x2C, 0) // ILT terminator
	putU32(out, rd+importBlockOff+0x30, 0) // IAT[0], resolved at runtime
	putU32(out, rd+importBlockOff+0x34, 0) // IAT terminator

	putBytes(out, rd+dllNameStrOff, cstr(img.ImportDLL))

	if len(img.ExtraRdata) > 0 {
		putBytes(out, rd+extraOff, img.ExtraRdata)
	}

	return out
}

// importTailSize is the size of the hint/name entry the import block
// carries right after its ILT/IAT pair (0 for an ordinal import, which
// has no hint/name entry at all).
func importTailSize(img Image) int {
	if img.ImportOrdinal != 0 {
		return 0
	}
	return 2 + len(img.ImportName) + 1
}

func sumNameLens(exports []Export) int {
	n := 0
	for _, e := range exports {
		n += len(e.Name) + 1
	}
	return n
}

// extraRVA returns the RVA ExtraRdata was placed at for img, so code
// assembled before Build can reference strings that live in it (e.g. the
// "Hello, world!\n" literal HelloWorldCode's mov-eax-imm32 points at).
func extraRVA(img Image) uint32 {
	layout := layoutExports(len(img.Exports))
	dllNameOff := layout.namesOff + sumNameLens(img.Exports)
	importBlockOff := (dllNameOff + 3) &^ 3
	dllNameStrOff := importBlockOff + 0x38 + importTailSize(img)
	extraOff := dllNameStrOff + len(img.ImportDLL) + 1
	return RdataRVA + uint32(extraOff)
}

// HelloWorldCode assembles the scenario-1 "hello" export: push the
// preassigned hello-string RVA, call [IAT slot for msvcrt!printf], clean
// up the stack, and return EAX=0. Grounded byte-for-byte on
// original_source/tests/common/mod.rs's .text bytes, generalized to take
// the string/IAT addresses rather than hardcoding this fixture's layout.
func HelloWorldCode(helloVA, iatVA uint32) []byte {
	code := []byte{0x55, 0x89, 0xE5, 0x83, 0xEC, 0x08} // push ebp; mov ebp,esp; sub esp,8
	code = append(code, 0xB8)                          // mov eax, imm32
	code = binary.LittleEndian.AppendUint32(code, helloVA)
	code = append(code, 0x50)       // push eax
	code = append(code, 0xFF, 0x15) // call [disp32]
	code = binary.LittleEndian.AppendUint32(code, iatVA)
	code = append(code, 0x83, 0xC4, 0x04) // add esp, 4
	code = append(code, 0x31, 0xC0)       // xor eax, eax
	code = append(code, 0xC9, 0xC3)       // leave; ret
	return code
}

func helloWorldImage(base uint32) Image {
	img := Image{
		Exports:    []Export{{Name: "hello", RVA: TextRVA}},
		ImportDLL:  "msvcrt.dll",
		ImportName: "printf",
		ExtraRdata: cstr("Hello, world!\n"),
		ImageBase:  base,
	}
	helloVA := base + extraRVA(img)
	importBlockOff := (layoutExports(1).namesOff + sumNameLens(img.Exports) + 3) &^ 3
	callIatVA := base + RdataRVA + uint32(importBlockOff+0x30)
	img.Code = HelloWorldCode(helloVA, callIatVA)
	return img
}

// BuildHelloWorldDLL returns the full scenario-1 fixture: export "hello",
// import msvcrt!printf, a "Hello, world!\n" string in .rdata.
func BuildHelloWorldDLL() []byte {
	return Build(helloWorldImage(ImageBase))
}

// BuildRelocatableHelloWorldDLL is BuildHelloWorldDLL plus a base
// relocation block with HIGHLOW fixups for HelloWorldCode's two absolute
// addresses (the mov-eax-imm32 string address and the call [disp32] IAT
// slot address), so the image loads correctly when a caller asks
// vm.LoadImageAt for a load base other than ImageBase (spec.md §8
// scenario 3). The fixture's own header always declares ImageBase as its
// preferred base; callers pass whatever alternate base they load it at
// straight to LoadImageAt.
func BuildRelocatableHelloWorldDLL() []byte {
	img := helloWorldImage(ImageBase)
	out := Build(img)

	// The immediate operand of "mov eax, imm32" sits right after the
	// 0xB8 opcode byte, 7 bytes into the function; the disp32 of
	// "call [disp32]" follows push eax and the FF 15 opcode, 14 bytes in.
	out = appendBaseRelocBlock(out, TextRVA+7, TextRVA+14)
	return out
}

// appendBaseRelocBlock grows out with one .reloc section containing one
// HIGHLOW (type 3) entry per rva (all in rvas[0]'s page), and wires the
// base relocation data directory (index 5) to point at it. Growing a
// fixed-layout image this way keeps the hand-built header offsets above
// untouched.
func appendBaseRelocBlock(out []byte, rvas ...uint32) []byte {
	const relocRVA = 0x3000
	pageRVA := rvas[0] &^ 0xFFF

	block := make([]byte, 8) // page RVA, block size
	putU32(block, 0, pageRVA)
	putU32(block, 4, uint32(8+2*len(rvas))) // 8-byte header + one 2-byte entry per fixup
	for _, rva := range rvas {
		entry := uint16(3<<12) | uint16(rva&0xFFF) // RelocHighLow
		block = append(block, byte(entry), byte(entry>>8))
	}
	if len(rvas)%2 != 0 {
		block = append(block, 0, 0) // padding entry (type 0) to 4-byte align the block
	}

	fileOff := len(out)
	out = append(out, block...)

	// Data directory entry 5 (DirBaseReloc) lives at dataDirOff+5*8; the
	// same optOff math Build used above.
	const peOff = 0x80
	fileOffHdr := peOff + 4
	optOff := fileOffHdr + 20
	dataDirOff := optOff + 0x60 + 5*8
	putU32(out, dataDirOff, relocRVA)
	putU32(out, dataDirOff+4, uint32(len(block)))

	// A third section header so peformat.Parse's RVA->file-offset mapping
	// resolves the reloc bytes just appended.
	sectOff := optOff + 0xE0
	numSectOff := peOff + 4 + 2
	putU16(out, numSectOff, 3)
	putSection(out, sectOff+80, ".reloc", uint32(len(block)), relocRVA, uint32(len(block)), uint32(fileOff), 0x4200_0040)

	return out
}

// BuildMissingImportDLL is scenario-5's fixture: an import from a DLL
// this test's host-call table never registers, so ResolveImports reports
// it by the "UNKNOWN.DLL!frobnicate" label spec.md §8 names.
func BuildMissingImportDLL() []byte {
	return Build(Image{
		Code:       []byte{0xC3}, // ret; this fixture only exercises ResolveImports, never runs
		Exports:    []Export{{Name: "hello", RVA: TextRVA}},
		ImportDLL:  "UNKNOWN.DLL",
		ImportName: "frobnicate",
	})
}

// BuildWS2_32OrdinalDLL is scenario-2's fixture, grounded on
// original_source/tests/ws2_32.rs's build_ws2_32_ordinal_dll: export
// "init" allocates a WSADATA buffer on the stack and calls WS2_32's
// ordinal #115 (WSAStartup) via the IAT, returning EAX unmodified from
// the call (0 on success).
func BuildWS2_32OrdinalDLL() []byte {
	img := Image{
		Exports:       []Export{{Name: "init", RVA: TextRVA}},
		ImportDLL:     "WS2_32.dll",
		ImportOrdinal: 115,
	}
	importBlockOff := (layoutExports(1).namesOff + sumNameLens(img.Exports) + 3) &^ 3
	iatVA := uint32(ImageBase + RdataRVA + uint32(importBlockOff+0x30))

	code := []byte{0x55, 0x89, 0xE5} // push ebp; mov ebp, esp
	code = append(code, 0x81, 0xEC)  // sub esp, imm32
	code = binary.LittleEndian.AppendUint32(code, 0x190)
	code = append(code, 0x8D, 0x04, 0x24) // lea eax, [esp]
	code = append(code, 0x50)             // push eax
	code = append(code, 0x68)             // push imm32 (wVersionRequested)
	code = binary.LittleEndian.AppendUint32(code, 0x0202)
	code = append(code, 0xFF, 0x15) // call [disp32]
	code = binary.LittleEndian.AppendUint32(code, iatVA)
	code = append(code, 0x83, 0xC4, 0x08) // add esp, 8
	code = append(code, 0xC9, 0xC3)       // leave; ret

	img.Code = code
	return Build(img)
}

// ComServerCLSID is the fabricated CLSID BuildComServerDLL registers
// itself under.
const ComServerCLSID = "{11111111-2222-3333-4444-555555555555}"

// BuildComServerDLL is scenario-4's fixture: a minimal in-process COM
// server whose IDispatch::Invoke doubles its sole U32 argument for
// dispid 1. Grounded on internal/com/activation.go's
// CreateInstanceInproc pipeline (DllGetClassObject -> IClassFactory ->
// IDispatch) rather than any one original_source test, since the Rust
// test suite drives COM activation against real compiled DLLs rather
// than a hand-assembled fixture; the vtable/thiscall-detection shape
// this fixture's machine code must satisfy comes from
// internal/com/vtable.go's detectCreateInstanceThiscall.
func BuildComServerDLL() []byte {
	img := Image{
		Exports:    []Export{{Name: "DllGetClassObject", RVA: TextRVA + 6}},
		ImportDLL:  "msvcrt.dll",
		ImportName: "printf",
	}
	base := uint32(ImageBase)
	extra := base + extraRVA(img)

	const (
		classFactoryVTableOff = 0
		classFactoryObjOff    = 16
		iDispatchVTableOff    = 20
		iDispatchObjOff       = 48
		extraLen              = 52
	)

	dllMain := []byte{0xB8, 1, 0, 0, 0, 0xC3} // mov eax,1; ret (DllMain success)

	// DllGetClassObject: load ppv from [esp+12]; mov dword ptr [ppv],
	// classFactoryObjVA; return S_OK.
	dllGetClassObject := []byte{0x8B, 0x44, 0x24, 0x0C, 0xC7, 0x00} // mov eax,[esp+12]; mov dword ptr [eax], ...
	dllGetClassObjectVAPatch := len(dllGetClassObject)
	dllGetClassObject = binary.LittleEndian.AppendUint32(dllGetClassObject, 0)
	dllGetClassObject = append(dllGetClassObject, 0x31, 0xC0, 0xC3) // xor eax,eax; ret

	// mov eax,[esp+4] (dummy, forces detectCreateInstanceThiscall false);
	// mov eax,[esp+16]; mov dword ptr [eax], iDispatchObjVA; xor eax,eax; ret.
	createInstance := []byte{0x8B, 0x44, 0x24, 0x04, 0x8B, 0x44, 0x24, 0x10, 0xC7, 0x00}
	createInstanceVAPatch := len(createInstance)
	createInstance = binary.LittleEndian.AppendUint32(createInstance, 0)
	createInstance = append(createInstance, 0x31, 0xC0, 0xC3)

	// mov eax, E_NOINTERFACE; ret.
	queryInterface := []byte{0xB8}
	queryInterface = binary.LittleEndian.AppendUint32(queryInterface, 0x8000_4002)
	queryInterface = append(queryInterface, 0xC3)

	// IDispatch::Invoke(this, dispid, riid, lcid, flags, dispParams,
	// resultPtr, excepInfo, puArgErr): read dispParams->rgvarg[0]'s U32
	// payload, double it, and write an I4 VARIANTARG at *resultPtr.
	invoke := []byte{
		0x8B, 0x44, 0x24, 0x04, // mov eax,[esp+4]     (dummy, forces stdcall detection)
		0x8B, 0x44, 0x24, 0x18, // mov eax,[esp+24]    (dispParamsPtr)
		0x8B, 0x00, // mov eax,[eax]           (rgvarg)
		0x8B, 0x40, 0x08, // mov eax,[eax+8]         (arg0's U32 payload)
		0x01, 0xC0, // add eax,eax             (double)
		0x89, 0xC1, // mov ecx,eax
		0x8B, 0x44, 0x24, 0x1C, // mov eax,[esp+28]    (resultPtr)
		0xC7, 0x00, 0x03, 0x00, 0x00, 0x00, // mov dword ptr [eax], VT_I4
		0x89, 0x48, 0x08, // mov [eax+8],ecx         (I4 payload)
		0x31, 0xC0, // xor eax,eax             (S_OK)
		0xC3, // ret
	}

	textOff := func(offsets ...int) uint32 {
		n := 0
		for _, o := range offsets {
			n += o
		}
		return TextRVA + uint32(n)
	}
	createInstanceRVA := textOff(len(dllMain), len(dllGetClassObject))
	queryInterfaceRVA := textOff(len(dllMain), len(dllGetClassObject), len(createInstance))
	invokeRVA := textOff(len(dllMain), len(dllGetClassObject), len(createInstance), len(queryInterface))

	classFactoryObjVA := extra + classFactoryObjOff
	iDispatchObjVA := extra + iDispatchObjOff
	binary.LittleEndian.PutUint32(dllGetClassObject[dllGetClassObjectVAPatch:], classFactoryObjVA)
	binary.LittleEndian.PutUint32(createInstance[createInstanceVAPatch:], iDispatchObjVA)

	code := append([]byte{}, dllMain...)
	code = append(code, dllGetClassObject...)
	code = append(code, createInstance...)
	code = append(code, queryInterface...)
	code = append(code, invoke...)
	img.Code = code

	extraData := make([]byte, extraLen)
	putU32(extraData, classFactoryVTableOff+12, base+createInstanceRVA) // slot 3: IClassFactory::CreateInstance
	putU32(extraData, classFactoryObjOff, extra+classFactoryVTableOff)
	putU32(extraData, iDispatchVTableOff+0, base+queryInterfaceRVA) // slot 0: IUnknown::QueryInterface
	putU32(extraData, iDispatchVTableOff+24, base+invokeRVA)        // slot 6: IDispatch::Invoke
	putU32(extraData, iDispatchObjOff, extra+iDispatchVTableOff)
	img.ExtraRdata = extraData

	return Build(img)
}

// BuildReentryProbeDLL is scenario-6's nested re-entry invariance
// fixture: set_regs clobbers EBX/ECX/EDX to easily distinguished sentinel
// values and returns 0; get_ebx reports EBX's current value through EAX.
// executeAt's snapshot/restore (vm.go) means calling set_regs must leave
// EBX exactly as it was before the call, which get_ebx then observes.
func BuildReentryProbeDLL() []byte {
	setRegsRVA := uint32(TextRVA)
	setCode := []byte{0xBB} // mov ebx, imm32
	setCode = binary.LittleEndian.AppendUint32(setCode, 0x1111_1111)
	setCode = append(setCode, 0xB9) // mov ecx, imm32
	setCode = binary.LittleEndian.AppendUint32(setCode, 0x2222_2222)
	setCode = append(setCode, 0xBA) // mov edx, imm32
	setCode = binary.LittleEndian.AppendUint32(setCode, 0x3333_3333)
	setCode = append(setCode, 0xB8) // mov eax, imm32
	setCode = binary.LittleEndian.AppendUint32(setCode, 0)
	setCode = append(setCode, 0xC3) // ret

	getEBXRVA := setRegsRVA + uint32(len(setCode))
	getCode := []byte{0x89, 0xD8, 0xC3} // mov eax, ebx; ret

	code := append(append([]byte{}, setCode...), getCode...)

	return Build(Image{
		Code: code,
		Exports: []Export{
			{Name: "set_regs", RVA: setRegsRVA},
			{Name: "get_ebx", RVA: getEBXRVA},
		},
		ImportDLL:  "msvcrt.dll",
		ImportName: "printf", // unused by this fixture's code; kept so ResolveImports has something to bind
	})
}
