package peformat

// File is the fully parsed PE32 image: headers, sections, and the
// fifteen optional data directories, flattened to imports/exports for
// convenient lookup (spec.md §3 "PeFile").
type File struct {
	Raw []byte

	DOS    DOSHeader
	COFF   COFFHeader
	Opt    OptionalHeader32
	PEBase int // file offset of the "PE\0\0" signature

	Sections []SectionHeader

	Imports      []ImportSymbol
	DelayImports []ImportSymbol
	Exports      []ExportSymbol
	ExportDir    *ExportDirectoryInfo
	Relocations  []RelocationBlock
	TLS          *TLSDirectory
	Resources    *ResourceDir
	LoadConfig   *LoadConfigDirectory
	BoundImports []BoundImportDescriptor
	Debug        []DebugDirectoryEntry
	CLRHeader    *CLRHeaderInfo
}

// Parse parses a PE32 image from raw bytes. It validates the DOS MZ and
// PE signatures, the machine type (0x14C), and the optional header magic
// (0x10B), then materializes every non-empty data directory, per
// spec.md §4.1.
func Parse(raw []byte) (*File, error) {
	dos, err := parseDOSHeader(raw)
	if err != nil {
		return nil, err
	}
	peOff := int(dos.PEOffset)
	if err := need(raw, peOff, 4); err != nil {
		return nil, err
	}
	if u32(raw, peOff) != PESignature {
		return nil, errf("bad PE signature at offset %d", peOff)
	}
	coffOff := peOff + 4
	coff, err := parseCOFFHeader(raw, coffOff)
	if err != nil {
		return nil, err
	}
	if coff.Machine != MachineI386 {
		return nil, errf("unsupported machine type 0x%04x (only IMAGE_FILE_MACHINE_I386/0x14C supported)", coff.Machine)
	}
	optOff := coffOff + 20
	opt, err := parseOptionalHeader32(raw, optOff, coff.SizeOfOptionalHeader)
	if err != nil {
		return nil, err
	}

	f := &File{Raw: raw, DOS: dos, COFF: coff, Opt: opt, PEBase: peOff}

	secOff := optOff + int(coff.SizeOfOptionalHeader)
	for i := 0; i < int(coff.NumberOfSections); i++ {
		sh, err := parseSectionHeader(raw, secOff+i*40)
		if err != nil {
			return nil, errf("section %d: %v", i, err)
		}
		f.Sections = append(f.Sections, sh)
	}

	if err := f.parseDirectories(); err != nil {
		return nil, err
	}
	return f, nil
}

// dataDir returns a directory entry, or (0,0) if absent/zero.
func (f *File) dataDir(idx int) (uint32, uint32) {
	if idx < 0 || idx >= numDataDirectories {
		return 0, 0
	}
	d := f.Opt.DataDirectory[idx]
	return d.VirtualAddress, d.Size
}

// RvaToOffset maps a relative virtual address to a file offset. It
// returns ok=false if rva falls outside header space and outside every
// section's [VirtualAddress, VirtualAddress+max(VirtualSize,SizeOfRawData))
// range, per spec.md §3.
func (f *File) RvaToOffset(rva uint32) (uint32, bool) {
	if rva < f.Opt.SizeOfHeaders {
		return rva, true
	}
	for _, s := range f.Sections {
		size := s.VirtualSize
		if s.SizeOfRawData > size {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			delta := rva - s.VirtualAddress
			if delta >= s.SizeOfRawData {
				return 0, false // within VirtualSize padding, no file backing
			}
			return s.PointerToRawData + delta, true
		}
	}
	return 0, false
}

// SectionContaining returns the section whose VA range contains rva.
func (f *File) SectionContaining(rva uint32) (*SectionHeader, bool) {
	for i := range f.Sections {
		s := &f.Sections[i]
		size := s.VirtualSize
		if s.SizeOfRawData > size {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return s, true
		}
	}
	return nil, false
}

func (f *File) bytesAtRVA(rva uint32, n int) ([]byte, error) {
	off, ok := f.RvaToOffset(rva)
	if !ok {
		return nil, errf("rva 0x%x does not map into any section", rva)
	}
	if err := need(f.Raw, int(off), n); err != nil {
		return nil, err
	}
	return f.Raw[off : int(off)+n], nil
}

func (f *File) readCStringAt(rva uint32) (string, error) {
	off, ok := f.RvaToOffset(rva)
	if !ok {
		return "", errf("rva 0x%x does not map into any section", rva)
	}
	start := int(off)
	end := start
	for end < len(f.Raw) && f.Raw[end] != 0 {
		end++
	}
	if end >= len(f.Raw) {
		return "", errf("unterminated string at rva 0x%x", rva)
	}
	return string(f.Raw[start:end]), nil
}
