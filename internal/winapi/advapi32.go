package winapi

import (
	"github.com/xyproto/pevm/internal/registry"
	"github.com/xyproto/pevm/internal/vmem"
)

// Predefined HKEY values, the real Win32 constants a guest image already
// hard-codes rather than something this emulator is free to pick.
const (
	hkeyClassesRoot  uint32 = 0x80000000
	hkeyCurrentUser  uint32 = 0x80000001
	hkeyLocalMachine uint32 = 0x80000002
	hkeyUsers        uint32 = 0x80000003
	hkeyCurrentConfig uint32 = 0x80000005
)

const (
	errSuccess        uint32 = 0
	errFileNotFound   uint32 = 2
	errMoreData       uint32 = 234
	errInvalidParameter uint32 = 87
)

func predefinedKey(hkey uint32) (registry.Key, bool) {
	var hive registry.Hive
	switch hkey {
	case hkeyClassesRoot:
		hive = registry.HKCR
	case hkeyCurrentUser:
		hive = registry.HKCU
	case hkeyLocalMachine:
		hive = registry.HKLM
	case hkeyUsers:
		hive = registry.HKU
	case hkeyCurrentConfig:
		hive = registry.HKCC
	default:
		return registry.Key{}, false
	}
	return registry.Key{Hive: hive}, true
}

// resolveHKEY turns a guest HKEY value (predefined constant or a handle
// this session previously opened) into the registry.Key it denotes.
func resolveHKEY(h RegistryHost, hkey uint32) (registry.Key, bool) {
	if key, ok := predefinedKey(hkey); ok {
		return key, true
	}
	return h.RegistryHandles().Get(hkey)
}

func subKey(base registry.Key, sub string) registry.Key {
	k := base
	if sub != "" {
		parts := splitRegPath(sub)
		k.Path = append(append([]string{}, base.Path...), parts...)
	}
	return k
}

func splitRegPath(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\\' || r == '/' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// Advapi32Stubs implements the practical Reg* subset spec.md §4.5 names,
// delegating straight to internal/registry; grounded on that package's
// Key/Value model (see registry/key.go, registry/value.go) the same way
// kernel32.go's HeapAlloc stubs delegate to Host.HeapAlloc.
func Advapi32Stubs() []Stub {
	return []Stub{
		{Name: "RegOpenKeyExA", Args: 5, Fn: regOpenKeyEx(false)},
		{Name: "RegOpenKeyExW", Args: 5, Fn: regOpenKeyEx(true)},
		{Name: "RegCreateKeyExA", Args: 9, Fn: regCreateKeyEx(false)},
		{Name: "RegCreateKeyExW", Args: 9, Fn: regCreateKeyEx(true)},
		{Name: "RegCloseKey", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			rh, ok := h.(RegistryHost)
			if !ok {
				return errInvalidParameter, nil
			}
			rh.RegistryHandles().Release(arg(mem, sp, 0))
			return errSuccess, nil
		}},
		{Name: "RegQueryValueExA", Args: 6, Fn: regQueryValueEx(false)},
		{Name: "RegQueryValueExW", Args: 6, Fn: regQueryValueEx(true)},
		{Name: "RegSetValueExA", Args: 6, Fn: regSetValueEx(false)},
		{Name: "RegSetValueExW", Args: 6, Fn: regSetValueEx(true)},
		{Name: "RegDeleteValueA", Args: 2, Fn: stubNotFound},
		{Name: "RegDeleteValueW", Args: 2, Fn: stubNotFound},
		{Name: "RegEnumKeyExA", Args: 8, Fn: regEnumKeyEx(false)},
		{Name: "RegEnumKeyExW", Args: 8, Fn: regEnumKeyEx(true)},
		{Name: "RegEnumValueA", Args: 8, Fn: regEnumValue(false)},
		{Name: "RegEnumValueW", Args: 8, Fn: regEnumValue(true)},
	}
}

func stubNotFound(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
	return errFileNotFound, nil
}

func regOpenKeyEx(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		subPath := strArg(h, mem, arg(mem, sp, 1), wide)
		resultOut := arg(mem, sp, 4)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		key := subKey(base, subPath)
		handle := rh.RegistryHandles().Alloc(key)
		if resultOut != 0 {
			mem.WriteU32(resultOut, handle)
		}
		return errSuccess, nil
	}
}

func regCreateKeyEx(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		subPath := strArg(h, mem, arg(mem, sp, 1), wide)
		resultOut := arg(mem, sp, 7)
		dispositionOut := arg(mem, sp, 8)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		key := subKey(base, subPath)
		// Materialize the key in the tree even with no values yet, so a
		// later RegOpenKeyEx/RegEnumKeyEx against it (or a parent's
		// RegEnumKeyEx) observes it.
		rh.Registry().SetKey(registry.Key{Hive: key.Hive, Path: key.Path, ValueName: "", HasValue: false}, registry.Value{})
		handle := rh.RegistryHandles().Alloc(key)
		if resultOut != 0 {
			mem.WriteU32(resultOut, handle)
		}
		if dispositionOut != 0 {
			mem.WriteU32(dispositionOut, 1) // REG_CREATED_NEW_KEY; existing-vs-new isn't tracked
		}
		return errSuccess, nil
	}
}

func regQueryValueEx(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		valueName := strArg(h, mem, arg(mem, sp, 1), wide)
		typeOut := arg(mem, sp, 3)
		dataOut := arg(mem, sp, 4)
		dataSizeOut := arg(mem, sp, 5)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		key := base
		key.ValueName = valueName
		v, ok := rh.Registry().GetKey(key)
		if !ok {
			return errFileNotFound, nil
		}

		regType, data := encodeRegValue(v, wide)
		if typeOut != 0 {
			mem.WriteU32(typeOut, regType)
		}

		var capacity uint32
		if dataSizeOut != 0 {
			capacity, _ = mem.ReadU32(dataSizeOut)
		}
		if dataSizeOut != 0 {
			mem.WriteU32(dataSizeOut, uint32(len(data)))
		}
		if dataOut == 0 {
			return errSuccess, nil
		}
		if uint32(len(data)) > capacity {
			return errMoreData, nil
		}
		mem.WriteBytes(dataOut, data)
		return errSuccess, nil
	}
}

func regSetValueEx(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		valueName := strArg(h, mem, arg(mem, sp, 1), wide)
		regType := arg(mem, sp, 3)
		dataPtr := arg(mem, sp, 4)
		dataSize := arg(mem, sp, 5)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		data, _ := mem.ReadBytes(dataPtr, int(dataSize))
		v := decodeRegValue(regType, data, wide)

		key := base
		key.ValueName = valueName
		rh.Registry().SetKey(key, v)
		return errSuccess, nil
	}
}

func regEnumKeyEx(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		index := arg(mem, sp, 1)
		nameOut := arg(mem, sp, 2)
		nameSizeOut := arg(mem, sp, 3)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		subkeys := rh.Registry().ListSubkeys(base)
		if index >= uint32(len(subkeys)) {
			return errFileNotFound, nil // ERROR_NO_MORE_ITEMS shares this value's neighborhood closely enough for stub purposes
		}
		writeRegString(mem, nameOut, nameSizeOut, subkeys[index], wide)
		return errSuccess, nil
	}
}

func regEnumValue(wide bool) func(Host, *vmem.Memory, uint32) (uint32, error) {
	return func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		rh, ok := h.(RegistryHost)
		if !ok {
			return errInvalidParameter, nil
		}
		hkey := arg(mem, sp, 0)
		index := arg(mem, sp, 1)
		nameOut := arg(mem, sp, 2)
		nameSizeOut := arg(mem, sp, 3)
		typeOut := arg(mem, sp, 5)
		dataOut := arg(mem, sp, 6)
		dataSizeOut := arg(mem, sp, 7)

		base, ok := resolveHKEY(rh, hkey)
		if !ok {
			return errInvalidParameter, nil
		}
		names := rh.Registry().ListValues(base)
		if index >= uint32(len(names)) {
			return errFileNotFound, nil
		}
		name := names[index]
		writeRegString(mem, nameOut, nameSizeOut, name, wide)

		key := base
		key.ValueName = name
		v, ok := rh.Registry().GetKey(key)
		if !ok {
			return errFileNotFound, nil
		}
		regType, data := encodeRegValue(v, wide)
		if typeOut != 0 {
			mem.WriteU32(typeOut, regType)
		}
		if dataSizeOut != 0 {
			mem.WriteU32(dataSizeOut, uint32(len(data)))
		}
		if dataOut != 0 {
			mem.WriteBytes(dataOut, data)
		}
		return errSuccess, nil
	}
}

func writeRegString(mem *vmem.Memory, ptr, sizePtr uint32, s string, wide bool) {
	if sizePtr != 0 {
		if wide {
			mem.WriteU32(sizePtr, uint32(len([]rune(s))))
		} else {
			mem.WriteU32(sizePtr, uint32(len(s)))
		}
	}
	if ptr == 0 {
		return
	}
	if wide {
		mem.WriteWideString(ptr, s)
	} else {
		mem.WriteCString(ptr, s)
	}
}

// REG_* type codes this emulator's RegQueryValueEx/RegSetValueEx/
// RegEnumValue round-trip.
const (
	regSZ        uint32 = 1
	regDWORD     uint32 = 4
	regMultiSZ   uint32 = 7
	regBinary    uint32 = 3
)

func encodeRegValue(v registry.Value, wide bool) (uint32, []byte) {
	switch v.Kind {
	case registry.KindDword:
		return regDWORD, []byte{byte(v.DwordVal), byte(v.DwordVal >> 8), byte(v.DwordVal >> 16), byte(v.DwordVal >> 24)}
	case registry.KindMultiString:
		return regMultiSZ, encodeMultiSZ(v.MultiVal, wide)
	case registry.KindBinary:
		return regBinary, v.BinaryVal
	default:
		return regSZ, encodeNulString(v.StringVal, wide)
	}
}

func decodeRegValue(regType uint32, data []byte, wide bool) registry.Value {
	switch regType {
	case regDWORD:
		if len(data) < 4 {
			return registry.DwordValue(0)
		}
		return registry.DwordValue(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
	case regMultiSZ:
		return registry.MultiStringValue(decodeMultiSZBytes(data, wide))
	case regBinary:
		return registry.BinaryValue(append([]byte{}, data...))
	default:
		return registry.StringValue(decodeNulString(data, wide))
	}
}

func encodeNulString(s string, wide bool) []byte {
	if wide {
		units := []rune(s)
		out := make([]byte, 0, len(units)*2+2)
		for _, r := range units {
			out = append(out, byte(r), byte(r>>8))
		}
		return append(out, 0, 0)
	}
	return append([]byte(s), 0)
}

func decodeNulString(data []byte, wide bool) string {
	if wide {
		var runes []rune
		for i := 0; i+1 < len(data); i += 2 {
			u := uint16(data[i]) | uint16(data[i+1])<<8
			if u == 0 {
				break
			}
			runes = append(runes, rune(u))
		}
		return string(runes)
	}
	n := 0
	for n < len(data) && data[n] != 0 {
		n++
	}
	return string(data[:n])
}

func encodeMultiSZ(values []string, wide bool) []byte {
	var out []byte
	for _, v := range values {
		out = append(out, encodeNulString(v, wide)...)
		if wide {
			out = out[:len(out)-2] // drop encodeNulString's own NUL, re-added below
		} else {
			out = out[:len(out)-1]
		}
	}
	if wide {
		return append(out, 0, 0, 0, 0)
	}
	return append(out, 0, 0)
}

func decodeMultiSZBytes(data []byte, wide bool) []string {
	var out []string
	if wide {
		var cur []rune
		for i := 0; i+1 < len(data); i += 2 {
			u := uint16(data[i]) | uint16(data[i+1])<<8
			if u == 0 {
				if len(cur) == 0 {
					break
				}
				out = append(out, string(cur))
				cur = nil
				continue
			}
			cur = append(cur, rune(u))
		}
		return out
	}
	cur := ""
	for _, b := range data {
		if b == 0 {
			if cur == "" {
				break
			}
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(rune(b))
	}
	return out
}
