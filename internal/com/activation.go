package com

import (
	"os"

	"github.com/xyproto/pevm/internal/registry"
)

// MissingConfigError reports a COM activation step that cannot proceed
// because of a missing registry value, export, or null object pointer.
type MissingConfigError struct{ Msg string }

func (e *MissingConfigError) Error() string { return e.Msg }

// MissingExportError reports a guest DLL that doesn't export a function
// the activation path requires (DllGetClassObject above all).
type MissingExportError struct{ Name string }

func (e *MissingExportError) Error() string { return "missing export: " + e.Name }

// Object is an activated in-process COM object: its IDispatch pointer plus
// whatever TypeLib metadata could be parsed from the server's resources.
// Invoke calls by dispid only; TypeLib is not used for name lookup.
type Object struct {
	CLSID      string
	DLLPath    string
	HostPath   string
	IDispatch  uint32
	TypeLib    *TypeLib // nil if no typelib could be located
}

// Runtime is the process-wide COM coordinator: it owns the TypeLib/TypeInfo
// handle slabs (spec.md §5's "Global TypeLib/TypeInfo store... entries are
// never removed, simple slab") and drives activation, grounded on
// original_source/.../com/runtime/mod.rs's `Com` struct.
type Runtime struct {
	typeLibs  *HandleTable[*TypeLib]
	typeInfos *HandleTable[*TypeInfo]
}

func NewRuntime() *Runtime {
	return &Runtime{
		typeLibs:  NewHandleTable[*TypeLib]("typelib", 0x7000_0000),
		typeInfos: NewHandleTable[*TypeInfo]("typeinfo", 0x7100_0000),
	}
}

// CreateInstanceInproc is spec.md §4.5's activation path: resolve the
// CLSID's InprocServer32 path, load and init the DLL, call
// DllGetClassObject -> IClassFactory::CreateInstance asking first for
// IID_IDispatch then falling back through IID_IUnknown and a heap-scan
// recovery, and finally attempt the ActiveX client-site handshake if the
// object supports IOleObject.
func (r *Runtime) CreateInstanceInproc(h Host, clsid string) (*Object, error) {
	normalized, dllPath, hostPath, err := resolveInprocPath(h, clsid)
	if err != nil {
		return nil, err
	}

	base, err := h.LoadAndResolve(hostPath)
	if err != nil {
		return nil, err
	}

	if err := registerServer(h, base); err != nil {
		return nil, err
	}
	if err := initDLL(h, base); err != nil {
		return nil, err
	}

	iDispatch, err := createInprocObject(h, base, normalized)
	if err != nil {
		return nil, err
	}

	if err := r.attachClientSite(h, iDispatch); err != nil {
		h.TraceCOMf("attachClientSite failed (non-fatal): %v", err)
	}

	tl := r.loadTypeLibForObject(h, iDispatch)

	return &Object{
		CLSID:     normalized,
		DLLPath:   dllPath,
		HostPath:  hostPath,
		IDispatch: iDispatch,
		TypeLib:   tl,
	}, nil
}

func resolveInprocPath(h Host, clsid string) (normalized, dllPath, hostPath string, err error) {
	normalized = NormalizeCLSID(clsid)
	reg := h.Registry()
	if reg == nil {
		return "", "", "", &MissingConfigError{Msg: "windows registry unavailable"}
	}
	candidates := []string{
		`HKCR\CLSID\` + normalized + `\InprocServer32`,
		`HKLM\Software\Classes\CLSID\` + normalized + `\InprocServer32`,
		`HKCU\Software\Classes\CLSID\` + normalized + `\InprocServer32`,
	}
	for _, key := range candidates {
		v, ok, lookupErr := reg.Get(key)
		if lookupErr != nil || !ok || v.Kind != registry.KindString {
			continue
		}
		dllPath = v.StringVal
		break
	}
	if dllPath == "" {
		return "", "", "", &MissingConfigError{Msg: "missing InprocServer32 value"}
	}
	return normalized, dllPath, h.MapPath(dllPath), nil
}

func registerServer(h Host, base uint32) error {
	if _, ok := os.LookupEnv("PE_VM_REGISTER_SERVER"); !ok {
		return nil
	}
	rva, ok := h.ExportRVA("DllRegisterServer")
	if !ok {
		return nil
	}
	_, err := h.ExecuteAt(base+rva, nil)
	return err
}

// DLL_PROCESS_ATTACH, passed as DllMain's second argument below.
const dllProcessAttach = 1

func initDLL(h Host, base uint32) error {
	rva, ok := h.EntryPointRVA()
	if !ok || rva == 0 {
		return nil
	}
	result, err := h.ExecuteAt(base+rva, []uint32{base, dllProcessAttach, 0})
	if err != nil {
		return err
	}
	if result == 0 {
		return &MissingConfigError{Msg: "DllMain returned failure"}
	}
	return nil
}

func createInprocObject(h Host, base uint32, clsid string) (uint32, error) {
	rva, ok := h.ExportRVA("DllGetClassObject")
	if !ok {
		return 0, &MissingExportError{Name: "DllGetClassObject"}
	}
	entry := base + rva

	clsidPtr, err := allocGUID(h, clsid)
	if err != nil {
		return 0, err
	}
	iidFactory, err := allocGUID(h, IID_IClassFactory)
	if err != nil {
		return 0, err
	}
	factoryOut, err := h.AllocBytes(make([]byte, 4), 4)
	if err != nil {
		return 0, err
	}

	hr, err := h.ExecuteAt(entry, []uint32{clsidPtr, iidFactory, factoryOut})
	if err != nil {
		return 0, err
	}
	if hr != 0 {
		return 0, &ComError{HRESULT: hr}
	}
	classFactory, err := h.ReadU32(factoryOut)
	if err != nil {
		return 0, err
	}
	if classFactory == 0 {
		return 0, &MissingConfigError{Msg: "class factory is null"}
	}

	internalCreate, _ := h.ReadU32(classFactory + 0x24)

	var iDispatch uint32
	var lastHR uint32
	selectedUnknown := false
	for _, iid := range []string{IID_IDispatch, IID_IUnknown} {
		hr, out, err := createInstanceWithIID(h, classFactory, iid)
		if err != nil {
			return 0, err
		}
		lastHR = hr
		if hr == 0 && out != 0 {
			iDispatch = out
			selectedUnknown = iid == IID_IUnknown
			break
		}
	}
	if selectedUnknown {
		if out, err := queryInterface(h, iDispatch, IID_IDispatch); err == nil && out != 0 {
			iDispatch = out
		}
	}
	if iDispatch == 0 && lastHR == 0 {
		if recovered, ok := recoverDispatchFromHeap(h, internalCreate); ok {
			h.TraceCOMf("recovered IDispatch pointer 0x%08X from heap scan", recovered)
			iDispatch = recovered
		}
	}
	if iDispatch == 0 {
		if lastHR != 0 {
			return 0, &ComError{HRESULT: lastHR}
		}
		return 0, &MissingConfigError{Msg: "IDispatch is null"}
	}
	return iDispatch, nil
}

func createInstanceWithIID(h Host, classFactory uint32, iid string) (hr, out uint32, err error) {
	createInstance, err := vtableFn(h, classFactory, 3)
	if err != nil {
		return 0, 0, err
	}
	iidPtr, err := allocGUID(h, iid)
	if err != nil {
		return 0, 0, err
	}
	outPtr, err := h.AllocBytes(make([]byte, 4), 4)
	if err != nil {
		return 0, 0, err
	}
	if detectCreateInstanceThiscall(h, createInstance) {
		hr, err = h.ExecuteAtWithECX(createInstance, classFactory, []uint32{0, iidPtr, outPtr})
	} else {
		hr, err = h.ExecuteAt(createInstance, []uint32{classFactory, 0, iidPtr, outPtr})
	}
	if err != nil {
		return 0, 0, err
	}
	out, _ = h.ReadU32(outPtr)
	return hr, out, nil
}

func queryInterface(h Host, objPtr uint32, iid string) (uint32, error) {
	query, err := vtableFn(h, objPtr, 0)
	if err != nil {
		return 0, err
	}
	iidPtr, err := allocGUID(h, iid)
	if err != nil {
		return 0, err
	}
	outPtr, err := h.AllocBytes(make([]byte, 4), 4)
	if err != nil {
		return 0, err
	}
	hr, err := h.ExecuteAt(query, []uint32{objPtr, iidPtr, outPtr})
	if err != nil {
		return 0, err
	}
	if hr != 0 {
		return 0, &ComError{HRESULT: hr}
	}
	return h.ReadU32(outPtr)
}

func allocGUID(h Host, guid string) (uint32, error) {
	bytes, err := ParseGUID(guid)
	if err != nil {
		return 0, err
	}
	return h.AllocBytes(bytes[:], 4)
}
