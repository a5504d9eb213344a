package peformat

// ImportSymbol is one resolved import thunk: a (module, name-or-ordinal)
// pair plus the IAT slot RVA the loader must patch, spec.md §4.1 "Imports".
type ImportSymbol struct {
	Module    string
	Name      string // empty when imported by ordinal
	Ordinal   uint16
	ByOrdinal bool
	IATRva    uint32 // FirstThunk + index*4
	Delay     bool
}

// ExportSymbol is one entry from the export directory: either a local
// function RVA or a forwarder string "OTHER.DLL.func".
type ExportSymbol struct {
	Name        string
	Ordinal     uint16
	RVA         uint32
	IsForwarder bool
	Forwarder   string
}

// ExportDirectoryInfo carries the raw export directory range, needed to
// detect forwarder RVAs (spec.md §3 "Exports").
type ExportDirectoryInfo struct {
	RVA  uint32
	Size uint32
	Name string
}

// RelocationBlock is one base relocation page: a page RVA and its list
// of (type, offset) entries, spec.md §4.1 "Relocations".
type RelocationBlock struct {
	PageRVA uint32
	Entries []RelocationEntry
}

type RelocationEntry struct {
	Type   uint8
	Offset uint16
}

const (
	RelocAbsolute = 0
	RelocHighLow  = 3
)

// TLSDirectory carries the TLS directory and its callback list. parseTLS
// has already converted the address fields and every CallbackVAs entry
// from VAs to RVAs by subtracting ImageBase.
type TLSDirectory struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       uint32
	CallbackVAs           []uint32
}

// ResourceDir is a recursive resource directory (depth capped at 8), leaves
// carrying (dataRVA, size, codepage) plus the copied bytes.
type ResourceDir struct {
	Entries []ResourceEntry
}

type ResourceEntry struct {
	ID       uint32 // numeric ID, if IsString is false
	Name     string
	IsString bool
	IsLeaf   bool
	Leaf     *ResourceLeaf
	Subdir   *ResourceDir
}

type ResourceLeaf struct {
	DataRVA  uint32
	Size     uint32
	CodePage uint32
	Data     []byte
}

// LoadConfigDirectory is a trimmed view of IMAGE_LOAD_CONFIG_DIRECTORY32.
type LoadConfigDirectory struct {
	Size                 uint32
	SecurityCookie       uint32
	SEHandlerTable       uint32
	SEHandlerCount       uint32
}

// BoundImportDescriptor is one IMAGE_BOUND_IMPORT_DESCRIPTOR entry.
type BoundImportDescriptor struct {
	ModuleName   string
	TimeDateStamp uint32
}

// DebugDirectoryEntry is one IMAGE_DEBUG_DIRECTORY entry.
type DebugDirectoryEntry struct {
	Characteristics uint32
	TimeDateStamp   uint32
	Type            uint32
	SizeOfData      uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// CLRHeaderInfo is a trimmed view of the CLR/COM+ 2.0 header (IMAGE_COR20_HEADER).
type CLRHeaderInfo struct {
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	Flags               uint32
	EntryPointToken     uint32
}

func (f *File) parseDirectories() error {
	if err := f.parseImports(); err != nil {
		return err
	}
	if err := f.parseDelayImports(); err != nil {
		return err
	}
	if err := f.parseExports(); err != nil {
		return err
	}
	if err := f.parseRelocations(); err != nil {
		return err
	}
	if err := f.parseTLS(); err != nil {
		return err
	}
	if err := f.parseResources(); err != nil {
		return err
	}
	f.parseLoadConfig()
	f.parseBoundImports()
	f.parseDebug()
	f.parseCLR()
	return nil
}

// parseImports walks the import descriptor table until the zero
// terminator; for each, the lookup table (OriginalFirstThunk preferred,
// falling back to FirstThunk) is iterated. Thunks with the top bit set
// are ordinal imports, spec.md §4.1 "Imports".
func (f *File) parseImports() error {
	rva, size := f.dataDir(DirImport)
	if rva == 0 || size == 0 {
		return nil
	}
	const descSize = 20
	for descOff := rva; ; descOff += descSize {
		b, err := f.bytesAtRVA(descOff, descSize)
		if err != nil {
			return err
		}
		origFirstThunk := u32(b, 0)
		nameRVA := u32(b, 12)
		firstThunk := u32(b, 16)
		if origFirstThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			break
		}
		moduleName, err := f.readCStringAt(nameRVA)
		if err != nil {
			return err
		}
		lookupRVA := origFirstThunk
		if lookupRVA == 0 {
			lookupRVA = firstThunk
		}
		syms, err := f.parseThunkArray(moduleName, lookupRVA, firstThunk, false)
		if err != nil {
			return err
		}
		f.Imports = append(f.Imports, syms...)
	}
	return nil
}

// parseDelayImports mirrors parseImports for the delay-load descriptor
// shape, where attributes&1 toggles RVA-vs-VA form. In VA form the
// descriptor's DLL name, name-table and IAT addresses are converted to
// RVAs by subtracting ImageBase; the hint/name entries inside the name
// table are not converted and are always read as RVAs.
func (f *File) parseDelayImports() error {
	rva, size := f.dataDir(DirDelayImport)
	if rva == 0 || size == 0 {
		return nil
	}
	const descSize = 32
	for descOff := rva; ; descOff += descSize {
		b, err := f.bytesAtRVA(descOff, descSize)
		if err != nil {
			return err
		}
		attrs := u32(b, 0)
		nameRVA := u32(b, 4)
		iatRVA := u32(b, 12)
		nameTableRVA := u32(b, 16)
		if attrs == 0 && nameRVA == 0 && nameTableRVA == 0 {
			break
		}
		vaForm := attrs&1 == 0
		if vaForm {
			nameRVA -= f.Opt.ImageBase
			nameTableRVA -= f.Opt.ImageBase
			iatRVA -= f.Opt.ImageBase
		}
		moduleName, err := f.readCStringAt(nameRVA)
		if err != nil {
			return err
		}
		syms, err := f.parseThunkArray(moduleName, nameTableRVA, iatRVA, true)
		if err != nil {
			return err
		}
		f.DelayImports = append(f.DelayImports, syms...)
	}
	return nil
}

func (f *File) parseThunkArray(module string, lookupRVA, iatRVA uint32, delay bool) ([]ImportSymbol, error) {
	var out []ImportSymbol
	for i := 0; ; i++ {
		thunkOff := lookupRVA + uint32(i)*4
		b, err := f.bytesAtRVA(thunkOff, 4)
		if err != nil {
			return nil, err
		}
		thunk := u32(b, 0)
		if thunk == 0 {
			break
		}
		sym := ImportSymbol{
			Module: module,
			IATRva: iatRVA + uint32(i)*4,
			Delay:  delay,
		}
		if thunk&0x8000_0000 != 0 {
			sym.ByOrdinal = true
			sym.Ordinal = uint16(thunk & 0xFFFF)
		} else {
			hintNameRVA := thunk
			nb, err := f.bytesAtRVA(hintNameRVA, 2)
			if err != nil {
				return nil, err
			}
			_ = nb // hint, unused
			name, err := f.readCStringAt(hintNameRVA + 2)
			if err != nil {
				return nil, err
			}
			sym.Name = name
		}
		out = append(out, sym)
	}
	return out, nil
}

// parseExports parses AddressOfFunctions/Names/NameOrdinals; a function
// RVA inside the export directory's own range is a forwarder string,
// spec.md §4.1 "Exports".
func (f *File) parseExports() error {
	rva, size := f.dataDir(DirExport)
	if rva == 0 || size == 0 {
		return nil
	}
	b, err := f.bytesAtRVA(rva, 40)
	if err != nil {
		return err
	}
	nameRVA := u32(b, 12)
	base := u32(b, 16)
	numFuncs := u32(b, 20)
	numNames := u32(b, 24)
	addrFuncs := u32(b, 28)
	addrNames := u32(b, 32)
	addrOrdinals := u32(b, 36)

	name, _ := f.readCStringAt(nameRVA)
	f.ExportDir = &ExportDirectoryInfo{RVA: rva, Size: size, Name: name}

	funcs := make([]uint32, numFuncs)
	for i := uint32(0); i < numFuncs; i++ {
		fb, err := f.bytesAtRVA(addrFuncs+i*4, 4)
		if err != nil {
			return err
		}
		funcs[i] = u32(fb, 0)
	}

	ordToName := make(map[uint16]string)
	for i := uint32(0); i < numNames; i++ {
		nb, err := f.bytesAtRVA(addrNames+i*4, 4)
		if err != nil {
			return err
		}
		nameStrRVA := u32(nb, 0)
		ob, err := f.bytesAtRVA(addrOrdinals+i*2, 2)
		if err != nil {
			return err
		}
		ord := u16(ob, 0)
		nm, err := f.readCStringAt(nameStrRVA)
		if err != nil {
			return err
		}
		ordToName[ord] = nm
	}

	for i, fnRVA := range funcs {
		if fnRVA == 0 {
			continue
		}
		ord := uint16(i)
		sym := ExportSymbol{Ordinal: uint16(base + uint32(ord)), RVA: fnRVA}
		if nm, ok := ordToName[ord]; ok {
			sym.Name = nm
		}
		if fnRVA >= rva && fnRVA < rva+size {
			fwd, err := f.readCStringAt(fnRVA)
			if err != nil {
				return err
			}
			sym.IsForwarder = true
			sym.Forwarder = fwd
		}
		f.Exports = append(f.Exports, sym)
	}
	return nil
}

// parseRelocations walks relocation blocks of (page RVA, size, [u16]);
// each u16 decomposes into type<<12|offset. Only RelocAbsolute (pad) and
// RelocHighLow are ever applied — spec.md §4.1 requires everything else
// to fail loudly at load time, which internal/image enforces.
func (f *File) parseRelocations() error {
	rva, size := f.dataDir(DirBaseReloc)
	if rva == 0 || size == 0 {
		return nil
	}
	end := rva + size
	for off := rva; off < end; {
		hdr, err := f.bytesAtRVA(off, 8)
		if err != nil {
			return err
		}
		pageRVA := u32(hdr, 0)
		blockSize := u32(hdr, 4)
		if blockSize < 8 {
			break
		}
		n := (blockSize - 8) / 2
		block := RelocationBlock{PageRVA: pageRVA}
		for i := uint32(0); i < n; i++ {
			eb, err := f.bytesAtRVA(off+8+i*2, 2)
			if err != nil {
				return err
			}
			raw := u16(eb, 0)
			block.Entries = append(block.Entries, RelocationEntry{
				Type:   uint8(raw >> 12),
				Offset: raw & 0x0FFF,
			})
		}
		f.Relocations = append(f.Relocations, block)
		off += blockSize
	}
	return nil
}

func (f *File) parseTLS() error {
	rva, size := f.dataDir(DirTLS)
	if rva == 0 || size == 0 {
		return nil
	}
	b, err := f.bytesAtRVA(rva, 24)
	if err != nil {
		return err
	}
	t := &TLSDirectory{
		StartAddressOfRawData: u32(b, 0) - f.Opt.ImageBase,
		EndAddressOfRawData:   u32(b, 4) - f.Opt.ImageBase,
		AddressOfIndex:        u32(b, 8) - f.Opt.ImageBase,
		AddressOfCallBacks:    u32(b, 12) - f.Opt.ImageBase,
		SizeOfZeroFill:        u32(b, 16),
		Characteristics:       u32(b, 20),
	}
	if t.AddressOfCallBacks != 0 {
		for i := 0; ; i++ {
			cb, err := f.bytesAtRVA(t.AddressOfCallBacks+uint32(i)*4, 4)
			if err != nil {
				break
			}
			va := u32(cb, 0)
			if va == 0 {
				break
			}
			t.CallbackVAs = append(t.CallbackVAs, va-f.Opt.ImageBase)
		}
	}
	f.TLS = t
	return nil
}

// parseResources recursively materializes the resource tree to a depth
// cap of 8, spec.md §4.1 "Resources".
func (f *File) parseResources() error {
	rva, size := f.dataDir(DirResource)
	if rva == 0 || size == 0 {
		return nil
	}
	dir, err := f.parseResourceDir(rva, rva, 0)
	if err != nil {
		return err
	}
	f.Resources = dir
	return nil
}

func (f *File) parseResourceDir(baseRVA, dirRVA uint32, depth int) (*ResourceDir, error) {
	if depth > 8 {
		return nil, errf("resource directory nesting exceeds depth 8")
	}
	b, err := f.bytesAtRVA(dirRVA, 16)
	if err != nil {
		return nil, err
	}
	numNamed := u16(b, 12)
	numID := u16(b, 14)
	total := int(numNamed) + int(numID)
	dir := &ResourceDir{}
	for i := 0; i < total; i++ {
		entOff := dirRVA + 16 + uint32(i)*8
		eb, err := f.bytesAtRVA(entOff, 8)
		if err != nil {
			return nil, err
		}
		nameOrID := u32(eb, 0)
		offsetVal := u32(eb, 4)

		entry := ResourceEntry{}
		if nameOrID&0x8000_0000 != 0 {
			nameRVA := baseRVA + (nameOrID &^ 0x8000_0000)
			nb, err := f.bytesAtRVA(nameRVA, 2)
			if err != nil {
				return nil, err
			}
			length := u16(nb, 0)
			units := make([]uint16, length)
			for j := uint16(0); j < length; j++ {
				cb, err := f.bytesAtRVA(nameRVA+2+uint32(j)*2, 2)
				if err != nil {
					return nil, err
				}
				units[j] = u16(cb, 0)
			}
			entry.IsString = true
			entry.Name = utf16Units(units)
		} else {
			entry.ID = nameOrID
		}

		if offsetVal&0x8000_0000 != 0 {
			childRVA := baseRVA + (offsetVal &^ 0x8000_0000)
			child, err := f.parseResourceDir(baseRVA, childRVA, depth+1)
			if err != nil {
				return nil, err
			}
			entry.Subdir = child
		} else {
			leafRVA := baseRVA + offsetVal
			lb, err := f.bytesAtRVA(leafRVA, 16)
			if err != nil {
				return nil, err
			}
			dataRVA := u32(lb, 0)
			dataSize := u32(lb, 4)
			codePage := u32(lb, 8)
			data, err := f.bytesAtRVA(dataRVA, int(dataSize))
			if err != nil {
				return nil, err
			}
			cp := make([]byte, len(data))
			copy(cp, data)
			entry.IsLeaf = true
			entry.Leaf = &ResourceLeaf{DataRVA: dataRVA, Size: dataSize, CodePage: codePage, Data: cp}
		}
		dir.Entries = append(dir.Entries, entry)
	}
	return dir, nil
}

func utf16Units(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for _, u := range units {
		runes = append(runes, rune(u))
	}
	return string(runes)
}

func (f *File) parseLoadConfig() {
	rva, size := f.dataDir(DirLoadConfig)
	if rva == 0 || size == 0 {
		return
	}
	b, err := f.bytesAtRVA(rva, 72)
	if err != nil {
		return
	}
	f.LoadConfig = &LoadConfigDirectory{
		Size:           u32(b, 0),
		SecurityCookie: u32(b, 60),
		SEHandlerTable: u32(b, 64),
		SEHandlerCount: u32(b, 68),
	}
}

func (f *File) parseBoundImports() {
	rva, size := f.dataDir(DirBoundImport)
	if rva == 0 || size == 0 {
		return
	}
	const entSize = 8
	for off := rva; ; off += entSize {
		b, err := f.bytesAtRVA(off, entSize)
		if err != nil {
			return
		}
		ts := u32(b, 0)
		nameOff := u16(b, 4)
		numRefs := u16(b, 6)
		if ts == 0 && nameOff == 0 && numRefs == 0 {
			return
		}
		name, err := f.readCStringAt(rva + uint32(nameOff))
		if err != nil {
			name = ""
		}
		f.BoundImports = append(f.BoundImports, BoundImportDescriptor{ModuleName: name, TimeDateStamp: ts})
		off += uint32(numRefs) * 8 // skip IMAGE_BOUND_FORWARDER_REF entries
	}
}

func (f *File) parseDebug() {
	rva, size := f.dataDir(DirDebug)
	if rva == 0 || size == 0 {
		return
	}
	const entSize = 28
	n := size / entSize
	for i := uint32(0); i < n; i++ {
		b, err := f.bytesAtRVA(rva+i*entSize, entSize)
		if err != nil {
			return
		}
		f.Debug = append(f.Debug, DebugDirectoryEntry{
			Characteristics:  u32(b, 0),
			TimeDateStamp:    u32(b, 4),
			Type:             u32(b, 12),
			SizeOfData:       u32(b, 16),
			AddressOfRawData: u32(b, 20),
			PointerToRawData: u32(b, 24),
		})
	}
}

func (f *File) parseCLR() {
	rva, size := f.dataDir(DirCOMDescriptor)
	if rva == 0 || size == 0 {
		return
	}
	b, err := f.bytesAtRVA(rva, 24)
	if err != nil {
		return
	}
	f.CLRHeader = &CLRHeaderInfo{
		MajorRuntimeVersion: u16(b, 4),
		MinorRuntimeVersion: u16(b, 6),
		Flags:               u32(b, 16),
		EntryPointToken:     u32(b, 20),
	}
}
