// Package image builds the flat virtual address space for a parsed PE32
// file: it copies headers and sections into an RVA-indexed byte array,
// pads to SizeOfImage, and applies base relocations when the chosen load
// base differs from the image's preferred ImageBase, spec.md §4.1
// "Image build".
package image

import (
	"fmt"

	"github.com/xyproto/pevm/internal/peformat"
	"github.com/xyproto/pevm/internal/vmem"
)

// UnsupportedRelocationError is returned when a relocation entry's type
// is neither 0 (pad) nor 3 (HIGHLOW) — spec.md requires these to fail
// loudly rather than silently mis-patch the image.
type UnsupportedRelocationError struct {
	Type uint8
}

func (e *UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("unsupported relocation type %d", e.Type)
}

// Image is the loaded, relocated PE image and its backing virtual memory.
type Image struct {
	File     *peformat.File
	LoadBase uint32
	Mem      *vmem.Memory
}

// alignUp4K rounds v up to the next 4 KiB boundary.
func alignUp4K(v uint32) uint32 { return (v + 0xFFF) &^ 0xFFF }

// Load copies section data into a fresh Memory anchored at loadBase
// (ImageBase if nonzero and loadBase==0, else 0x00400000, 4 KiB-aligned),
// then applies base relocations if loadBase != ImageBase.
func Load(file *peformat.File, loadBase uint32) (*Image, error) {
	base := loadBase
	if base == 0 {
		base = file.Opt.ImageBase
	}
	if base == 0 {
		base = vmem.DefaultImageBase
	}
	base = alignUp4K(base)

	imageSize := file.Opt.SizeOfImage
	if imageSize == 0 {
		imageSize = file.Opt.SizeOfHeaders
	}

	mem := vmem.New(base, imageSize)

	hdrLen := int(file.Opt.SizeOfHeaders)
	if hdrLen > len(file.Raw) {
		hdrLen = len(file.Raw)
	}
	if err := mem.WriteBytes(base, file.Raw[:hdrLen]); err != nil {
		return nil, err
	}

	for _, s := range file.Sections {
		raw := int(s.SizeOfRawData)
		if s.PointerToRawData == 0 || raw == 0 {
			continue
		}
		end := int(s.PointerToRawData) + raw
		if end > len(file.Raw) {
			end = len(file.Raw)
			raw = end - int(s.PointerToRawData)
		}
		if raw <= 0 {
			continue
		}
		data := file.Raw[s.PointerToRawData : s.PointerToRawData+uint32(raw)]
		if err := mem.WriteBytes(base+s.VirtualAddress, data); err != nil {
			return nil, fmt.Errorf("section %s: %w", s.NameString(), err)
		}
	}

	img := &Image{File: file, LoadBase: base, Mem: mem}

	if base != file.Opt.ImageBase {
		delta := int64(base) - int64(file.Opt.ImageBase)
		if err := img.applyRelocations(uint32(delta)); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// applyRelocations patches every HIGHLOW site by delta = load_base -
// ImageBase, spec.md §4.1 / §8 "For any base-relocation applied...".
func (img *Image) applyRelocations(delta uint32) error {
	for _, block := range img.File.Relocations {
		for _, e := range block.Entries {
			switch e.Type {
			case peformat.RelocAbsolute:
				continue // padding entry, no-op
			case peformat.RelocHighLow:
				addr := img.LoadBase + block.PageRVA + uint32(e.Offset)
				v, err := img.Mem.ReadU32(addr)
				if err != nil {
					return err
				}
				if err := img.Mem.WriteU32(addr, v+delta); err != nil {
					return err
				}
			default:
				return &UnsupportedRelocationError{Type: e.Type}
			}
		}
	}
	return nil
}

// RVAToVA converts an RVA in this loaded image to an absolute address.
func (img *Image) RVAToVA(rva uint32) uint32 { return img.LoadBase + rva }

// Contains reports whether va falls within this image's [LoadBase,
// LoadBase+SizeOfImage) range.
func (img *Image) Contains(va uint32) bool {
	size := img.File.Opt.SizeOfImage
	return va >= img.LoadBase && va < img.LoadBase+size
}

// EntryPoint returns the absolute address of AddressOfEntryPoint.
func (img *Image) EntryPoint() uint32 { return img.RVAToVA(img.File.Opt.AddressOfEntryPoint) }

// ExportRVA looks up a named export. Forwarders are not followed: a
// forwarded export is returned as is, with IsForwarder and Forwarder set,
// and no caller in this module resolves it further.
func (img *Image) ExportRVA(name string) (peformat.ExportSymbol, bool) {
	for _, e := range img.File.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return peformat.ExportSymbol{}, false
}
