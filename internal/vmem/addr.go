// Package vmem implements the flat virtual address space a loaded PE
// image executes against: image bytes, an FS/TEB page, a bump-allocated
// heap, and a stack, all backed by one contiguous byte slice.
package vmem

import "fmt"

// RVA is an offset relative to a PE image's load base (spec.md §3, PeFile).
type RVA uint32

// VA is an absolute virtual address inside the running process's address space.
type VA uint32

// FileOffset is a byte offset within the original PE file on disk.
type FileOffset uint32

func (a RVA) String() string        { return fmt.Sprintf("RVA:0x%x", uint32(a)) }
func (a VA) String() string         { return fmt.Sprintf("VA:0x%x", uint32(a)) }
func (a FileOffset) String() string { return fmt.Sprintf("FileOff:0x%x", uint32(a)) }

// Add returns rva+n, wrapping at 32 bits like real address arithmetic.
func (a RVA) Add(n uint32) RVA { return RVA(uint32(a) + n) }

// Add returns va+n, wrapping at 32 bits.
func (a VA) Add(n uint32) VA { return VA(uint32(a) + n) }
