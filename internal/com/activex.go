package com

// Minimal ActiveX site hooks for in-proc COM controls, spec.md §4.5's
// "if the object also exposes IOleObject, attach a synthetic
// IOleClientSite/IOleInPlaceSite/IOleInPlaceFrame/IOleInPlaceUIWindow and
// drive SetClientSite then DoVerb(OLEIVERB_INPLACEACTIVATE)". Grounded
// near-verbatim on original_source/.../com/runtime/activex.rs.

const oleiverbInPlaceActivate = 0xFFFF_FFFB

// attachClientSite queries an activated IDispatch for IOleObject and, if
// present, attaches a stub client site and activates it in place. A
// missing IOleObject interface (E_NOINTERFACE) is not an error: plenty of
// in-proc servers are plain automation objects with no ActiveX site
// handshake at all.
func (r *Runtime) attachClientSite(h Host, iDispatch uint32) error {
	oleObject, err := queryInterface(h, iDispatch, IID_IOleObject)
	if err != nil {
		if comErr, ok := err.(*ComError); ok && comErr.HRESULT == E_NOINTERFACE {
			h.TraceCOMf("IOleObject not supported for IDispatch=0x%08X", iDispatch)
			return nil
		}
		return err
	}
	if oleObject == 0 {
		return nil
	}

	sitePtr, err := buildSiteObjects(h)
	if err != nil {
		return err
	}

	hr, err := callVtableMethod(h, oleObject, 3, []uint32{sitePtr})
	if err != nil {
		return err
	}
	h.TraceCOMf("IOleObject::SetClientSite hr=0x%08X site=0x%08X", hr, sitePtr)
	if hr == E_NOTIMPL {
		return nil
	}
	if hr != 0 {
		return &ComError{HRESULT: hr}
	}

	hr, err = callVtableMethod(h, oleObject, 11, []uint32{
		oleiverbInPlaceActivate, 0, sitePtr, 0, 0, 0,
	})
	if err != nil {
		return err
	}
	h.TraceCOMf("IOleObject::DoVerb hr=0x%08X verb=0x%08X", hr, uint32(oleiverbInPlaceActivate))
	return nil
}

func buildSiteObjects(h Host) (uint32, error) {
	clientVtable, err := buildVtable(h, []string{
		"pe_vm.ioleclientsite.QueryInterface",
		"pe_vm.ioleclientsite.AddRef",
		"pe_vm.ioleclientsite.Release",
		"pe_vm.ioleclientsite.SaveObject",
		"pe_vm.ioleclientsite.GetMoniker",
		"pe_vm.ioleclientsite.GetContainer",
		"pe_vm.ioleclientsite.ShowObject",
		"pe_vm.ioleclientsite.OnShowWindow",
		"pe_vm.ioleclientsite.RequestNewObjectLayout",
	})
	if err != nil {
		return 0, err
	}
	inPlaceSiteVtable, err := buildVtable(h, []string{
		"pe_vm.ioleinplacesite.QueryInterface",
		"pe_vm.ioleinplacesite.AddRef",
		"pe_vm.ioleinplacesite.Release",
		"pe_vm.ioleinplacesite.GetWindow",
		"pe_vm.ioleinplacesite.ContextSensitiveHelp",
		"pe_vm.ioleinplacesite.CanInPlaceActivate",
		"pe_vm.ioleinplacesite.OnInPlaceActivate",
		"pe_vm.ioleinplacesite.OnUIActivate",
		"pe_vm.ioleinplacesite.GetWindowContext",
		"pe_vm.ioleinplacesite.Scroll",
		"pe_vm.ioleinplacesite.OnUIDeactivate",
		"pe_vm.ioleinplacesite.OnInPlaceDeactivate",
		"pe_vm.ioleinplacesite.DiscardUndoState",
		"pe_vm.ioleinplacesite.DeactivateAndUndo",
		"pe_vm.ioleinplacesite.OnPosRectChange",
	})
	if err != nil {
		return 0, err
	}
	inPlaceUIVtable, err := buildVtable(h, []string{
		"pe_vm.ioleinplaceuiwindow.QueryInterface",
		"pe_vm.ioleinplaceuiwindow.AddRef",
		"pe_vm.ioleinplaceuiwindow.Release",
		"pe_vm.ioleinplaceuiwindow.GetWindow",
		"pe_vm.ioleinplaceuiwindow.ContextSensitiveHelp",
		"pe_vm.ioleinplaceuiwindow.GetBorder",
		"pe_vm.ioleinplaceuiwindow.RequestBorderSpace",
		"pe_vm.ioleinplaceuiwindow.SetBorderSpace",
		"pe_vm.ioleinplaceuiwindow.SetActiveObject",
	})
	if err != nil {
		return 0, err
	}
	inPlaceFrameVtable, err := buildVtable(h, []string{
		"pe_vm.ioleinplaceframe.QueryInterface",
		"pe_vm.ioleinplaceframe.AddRef",
		"pe_vm.ioleinplaceframe.Release",
		"pe_vm.ioleinplaceframe.GetWindow",
		"pe_vm.ioleinplaceframe.ContextSensitiveHelp",
		"pe_vm.ioleinplaceframe.GetBorder",
		"pe_vm.ioleinplaceframe.RequestBorderSpace",
		"pe_vm.ioleinplaceframe.SetBorderSpace",
		"pe_vm.ioleinplaceframe.SetActiveObject",
		"pe_vm.ioleinplaceframe.InsertMenus",
		"pe_vm.ioleinplaceframe.SetMenu",
		"pe_vm.ioleinplaceframe.RemoveMenus",
		"pe_vm.ioleinplaceframe.SetStatusText",
		"pe_vm.ioleinplaceframe.EnableModeless",
		"pe_vm.ioleinplaceframe.TranslateAccelerator",
	})
	if err != nil {
		return 0, err
	}

	inPlaceFrame, err := buildSiteObject(h, inPlaceFrameVtable, nil)
	if err != nil {
		return 0, err
	}
	inPlaceUI, err := buildSiteObject(h, inPlaceUIVtable, nil)
	if err != nil {
		return 0, err
	}
	inPlaceSite, err := buildSiteObject(h, inPlaceSiteVtable, []uint32{0, inPlaceFrame, inPlaceUI})
	if err != nil {
		return 0, err
	}
	clientSite, err := buildSiteObject(h, clientVtable, []uint32{inPlaceSite, inPlaceFrame, inPlaceUI})
	if err != nil {
		return 0, err
	}

	_ = h.WriteU32(inPlaceSite+4, clientSite)
	return clientSite, nil
}

func buildVtable(h Host, entries []string) (uint32, error) {
	bytes := make([]byte, 0, len(entries)*4)
	for _, name := range entries {
		addr, err := resolveSiteEntry(h, name)
		if err != nil {
			return 0, err
		}
		bytes = append(bytes, byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24))
	}
	return h.AllocBytes(bytes, 4)
}

func buildSiteObject(h Host, vtablePtr uint32, extras []uint32) (uint32, error) {
	bytes := make([]byte, 0, (1+len(extras))*4)
	bytes = append(bytes, byte(vtablePtr), byte(vtablePtr>>8), byte(vtablePtr>>16), byte(vtablePtr>>24))
	for _, extra := range extras {
		bytes = append(bytes, byte(extra), byte(extra>>8), byte(extra>>16), byte(extra>>24))
	}
	return h.AllocBytes(bytes, 4)
}

var siteThunkArgCounts = map[string]int{
	"pe_vm.ioleclientsite.QueryInterface":             3,
	"pe_vm.ioleclientsite.AddRef":                      1,
	"pe_vm.ioleclientsite.Release":                     1,
	"pe_vm.ioleclientsite.SaveObject":                  1,
	"pe_vm.ioleclientsite.GetMoniker":                  4,
	"pe_vm.ioleclientsite.GetContainer":                2,
	"pe_vm.ioleclientsite.ShowObject":                  1,
	"pe_vm.ioleclientsite.OnShowWindow":                2,
	"pe_vm.ioleclientsite.RequestNewObjectLayout":      1,
	"pe_vm.ioleinplacesite.QueryInterface":             3,
	"pe_vm.ioleinplacesite.AddRef":                      1,
	"pe_vm.ioleinplacesite.Release":                     1,
	"pe_vm.ioleinplacesite.GetWindow":                   2,
	"pe_vm.ioleinplacesite.ContextSensitiveHelp":        2,
	"pe_vm.ioleinplacesite.CanInPlaceActivate":          1,
	"pe_vm.ioleinplacesite.OnInPlaceActivate":           1,
	"pe_vm.ioleinplacesite.OnUIActivate":                1,
	"pe_vm.ioleinplacesite.GetWindowContext":            6,
	"pe_vm.ioleinplacesite.Scroll":                      3,
	"pe_vm.ioleinplacesite.OnUIDeactivate":              2,
	"pe_vm.ioleinplacesite.OnInPlaceDeactivate":         1,
	"pe_vm.ioleinplacesite.DiscardUndoState":            1,
	"pe_vm.ioleinplacesite.DeactivateAndUndo":           1,
	"pe_vm.ioleinplacesite.OnPosRectChange":             2,
	"pe_vm.ioleinplaceuiwindow.QueryInterface":          3,
	"pe_vm.ioleinplaceuiwindow.AddRef":                  1,
	"pe_vm.ioleinplaceuiwindow.Release":                 1,
	"pe_vm.ioleinplaceuiwindow.GetWindow":               2,
	"pe_vm.ioleinplaceuiwindow.ContextSensitiveHelp":     2,
	"pe_vm.ioleinplaceuiwindow.GetBorder":                2,
	"pe_vm.ioleinplaceuiwindow.RequestBorderSpace":       2,
	"pe_vm.ioleinplaceuiwindow.SetBorderSpace":           2,
	"pe_vm.ioleinplaceuiwindow.SetActiveObject":          3,
	"pe_vm.ioleinplaceframe.QueryInterface":              3,
	"pe_vm.ioleinplaceframe.AddRef":                      1,
	"pe_vm.ioleinplaceframe.Release":                     1,
	"pe_vm.ioleinplaceframe.GetWindow":                   2,
	"pe_vm.ioleinplaceframe.ContextSensitiveHelp":        2,
	"pe_vm.ioleinplaceframe.GetBorder":                   2,
	"pe_vm.ioleinplaceframe.RequestBorderSpace":           2,
	"pe_vm.ioleinplaceframe.SetBorderSpace":               2,
	"pe_vm.ioleinplaceframe.SetActiveObject":              3,
	"pe_vm.ioleinplaceframe.InsertMenus":                  3,
	"pe_vm.ioleinplaceframe.SetMenu":                       4,
	"pe_vm.ioleinplaceframe.RemoveMenus":                   2,
	"pe_vm.ioleinplaceframe.SetStatusText":                 2,
	"pe_vm.ioleinplaceframe.EnableModeless":                2,
	"pe_vm.ioleinplaceframe.TranslateAccelerator":          3,
}

var siteThunkHandlers = map[string]func(h Host, args []uint32) uint32{
	"pe_vm.ioleclientsite.QueryInterface":         siteQueryInterface,
	"pe_vm.ioleclientsite.AddRef":                 siteAddRef,
	"pe_vm.ioleclientsite.Release":                siteRelease,
	"pe_vm.ioleclientsite.SaveObject":             siteSaveObject,
	"pe_vm.ioleclientsite.GetMoniker":             siteGetMoniker,
	"pe_vm.ioleclientsite.GetContainer":           siteGetContainer,
	"pe_vm.ioleclientsite.ShowObject":             siteShowObject,
	"pe_vm.ioleclientsite.OnShowWindow":           siteOnShowWindow,
	"pe_vm.ioleclientsite.RequestNewObjectLayout": siteRequestNewObjectLayout,

	"pe_vm.ioleinplacesite.QueryInterface":      inPlaceSiteQueryInterface,
	"pe_vm.ioleinplacesite.AddRef":              siteAddRef,
	"pe_vm.ioleinplacesite.Release":             siteRelease,
	"pe_vm.ioleinplacesite.GetWindow":           oleGetWindow,
	"pe_vm.ioleinplacesite.ContextSensitiveHelp": oleContextSensitiveHelp,
	"pe_vm.ioleinplacesite.CanInPlaceActivate":  oleSimpleOK,
	"pe_vm.ioleinplacesite.OnInPlaceActivate":   oleSimpleOK,
	"pe_vm.ioleinplacesite.OnUIActivate":        oleSimpleOK,
	"pe_vm.ioleinplacesite.GetWindowContext":    inPlaceSiteGetWindowContext,
	"pe_vm.ioleinplacesite.Scroll":              oleSimpleOK,
	"pe_vm.ioleinplacesite.OnUIDeactivate":      oleSimpleOK,
	"pe_vm.ioleinplacesite.OnInPlaceDeactivate": oleSimpleOK,
	"pe_vm.ioleinplacesite.DiscardUndoState":    oleSimpleOK,
	"pe_vm.ioleinplacesite.DeactivateAndUndo":   oleSimpleOK,
	"pe_vm.ioleinplacesite.OnPosRectChange":     oleSimpleOK,

	"pe_vm.ioleinplaceuiwindow.QueryInterface":      inPlaceUIQueryInterface,
	"pe_vm.ioleinplaceuiwindow.AddRef":              siteAddRef,
	"pe_vm.ioleinplaceuiwindow.Release":             siteRelease,
	"pe_vm.ioleinplaceuiwindow.GetWindow":           oleGetWindow,
	"pe_vm.ioleinplaceuiwindow.ContextSensitiveHelp": oleContextSensitiveHelp,
	"pe_vm.ioleinplaceuiwindow.GetBorder":           oleGetBorder,
	"pe_vm.ioleinplaceuiwindow.RequestBorderSpace":  oleSimpleOK,
	"pe_vm.ioleinplaceuiwindow.SetBorderSpace":      oleSimpleOK,
	"pe_vm.ioleinplaceuiwindow.SetActiveObject":     oleSimpleOK,

	"pe_vm.ioleinplaceframe.QueryInterface":      inPlaceFrameQueryInterface,
	"pe_vm.ioleinplaceframe.AddRef":              siteAddRef,
	"pe_vm.ioleinplaceframe.Release":             siteRelease,
	"pe_vm.ioleinplaceframe.GetWindow":           oleGetWindow,
	"pe_vm.ioleinplaceframe.ContextSensitiveHelp": oleContextSensitiveHelp,
	"pe_vm.ioleinplaceframe.GetBorder":           oleGetBorder,
	"pe_vm.ioleinplaceframe.RequestBorderSpace":  oleSimpleOK,
	"pe_vm.ioleinplaceframe.SetBorderSpace":      oleSimpleOK,
	"pe_vm.ioleinplaceframe.SetActiveObject":     oleSimpleOK,
	"pe_vm.ioleinplaceframe.InsertMenus":         oleSimpleOK,
	"pe_vm.ioleinplaceframe.SetMenu":             oleSimpleOK,
	"pe_vm.ioleinplaceframe.RemoveMenus":         oleSimpleOK,
	"pe_vm.ioleinplaceframe.SetStatusText":       oleSimpleOK,
	"pe_vm.ioleinplaceframe.EnableModeless":      oleSimpleOK,
	"pe_vm.ioleinplaceframe.TranslateAccelerator": oleTranslateAccelerator,
}

func resolveSiteEntry(h Host, name string) (uint32, error) {
	argCount, ok := siteThunkArgCounts[name]
	if !ok {
		return 0, &MissingConfigError{Msg: "unknown site thunk: " + name}
	}
	handler := siteThunkHandlers[name]
	return h.AllocHostStub(name, argCount, handler), nil
}

func siteQueryInterface(h Host, args []uint32) uint32 {
	this, iidPtr, outPtr := args[0], args[1], args[2]
	if outPtr == 0 {
		return E_NOINTERFACE
	}
	inPlaceSite := readPtr(h, this, 4)
	inPlaceFrame := readPtr(h, this, 8)
	inPlaceUI := readPtr(h, this, 12)
	switch {
	case guidMatches(h, iidPtr, IID_IUnknown) || guidMatches(h, iidPtr, IID_IOleClientSite):
		_ = h.WriteU32(outPtr, this)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleInPlaceSite):
		_ = h.WriteU32(outPtr, inPlaceSite)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleInPlaceFrame):
		_ = h.WriteU32(outPtr, inPlaceFrame)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleInPlaceUIWindow):
		_ = h.WriteU32(outPtr, inPlaceUI)
		return S_OK
	}
	_ = h.WriteU32(outPtr, 0)
	return E_NOINTERFACE
}

func inPlaceSiteQueryInterface(h Host, args []uint32) uint32 {
	this, iidPtr, outPtr := args[0], args[1], args[2]
	if outPtr == 0 {
		return E_NOINTERFACE
	}
	clientSite := readPtr(h, this, 4)
	inPlaceFrame := readPtr(h, this, 8)
	inPlaceUI := readPtr(h, this, 12)
	switch {
	case guidMatches(h, iidPtr, IID_IUnknown) || guidMatches(h, iidPtr, IID_IOleInPlaceSite):
		_ = h.WriteU32(outPtr, this)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleClientSite):
		_ = h.WriteU32(outPtr, clientSite)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleInPlaceFrame):
		_ = h.WriteU32(outPtr, inPlaceFrame)
		return S_OK
	case guidMatches(h, iidPtr, IID_IOleInPlaceUIWindow):
		_ = h.WriteU32(outPtr, inPlaceUI)
		return S_OK
	}
	_ = h.WriteU32(outPtr, 0)
	return E_NOINTERFACE
}

func inPlaceUIQueryInterface(h Host, args []uint32) uint32 {
	this, iidPtr, outPtr := args[0], args[1], args[2]
	if outPtr == 0 {
		return E_NOINTERFACE
	}
	if guidMatches(h, iidPtr, IID_IUnknown) || guidMatches(h, iidPtr, IID_IOleInPlaceUIWindow) || guidMatches(h, iidPtr, IID_IOleWindow) {
		_ = h.WriteU32(outPtr, this)
		return S_OK
	}
	_ = h.WriteU32(outPtr, 0)
	return E_NOINTERFACE
}

func inPlaceFrameQueryInterface(h Host, args []uint32) uint32 {
	this, iidPtr, outPtr := args[0], args[1], args[2]
	if outPtr == 0 {
		return E_NOINTERFACE
	}
	if guidMatches(h, iidPtr, IID_IUnknown) || guidMatches(h, iidPtr, IID_IOleInPlaceFrame) ||
		guidMatches(h, iidPtr, IID_IOleInPlaceUIWindow) || guidMatches(h, iidPtr, IID_IOleWindow) {
		_ = h.WriteU32(outPtr, this)
		return S_OK
	}
	_ = h.WriteU32(outPtr, 0)
	return E_NOINTERFACE
}

func siteAddRef(h Host, args []uint32) uint32  { return 1 }
func siteRelease(h Host, args []uint32) uint32 { return 1 }
func siteSaveObject(h Host, args []uint32) uint32 { return S_OK }
func siteGetMoniker(h Host, args []uint32) uint32 { return E_NOTIMPL }

func siteGetContainer(h Host, args []uint32) uint32 {
	outPtr := args[1]
	if outPtr != 0 {
		_ = h.WriteU32(outPtr, 0)
	}
	return E_NOINTERFACE
}

func siteShowObject(h Host, args []uint32) uint32           { return S_OK }
func siteOnShowWindow(h Host, args []uint32) uint32          { return S_OK }
func siteRequestNewObjectLayout(h Host, args []uint32) uint32 { return E_NOTIMPL }

func oleGetWindow(h Host, args []uint32) uint32 {
	outPtr := args[1]
	if outPtr != 0 {
		_ = h.WriteU32(outPtr, 0)
	}
	return S_OK
}

func oleContextSensitiveHelp(h Host, args []uint32) uint32 { return S_OK }

func inPlaceSiteGetWindowContext(h Host, args []uint32) uint32 {
	this := args[0]
	frameOut, docOut, posRect, clipRect, frameInfo := args[1], args[2], args[3], args[4], args[5]
	inPlaceFrame := readPtr(h, this, 8)
	inPlaceUI := readPtr(h, this, 12)
	if frameOut != 0 {
		_ = h.WriteU32(frameOut, inPlaceFrame)
	}
	if docOut != 0 {
		_ = h.WriteU32(docOut, inPlaceUI)
	}
	writeRect(h, posRect)
	writeRect(h, clipRect)
	writeFrameInfo(h, frameInfo)
	return S_OK
}

func oleGetBorder(h Host, args []uint32) uint32 {
	writeRect(h, args[1])
	return S_OK
}

func oleSimpleOK(h Host, args []uint32) uint32           { return S_OK }
func oleTranslateAccelerator(h Host, args []uint32) uint32 { return E_NOTIMPL }

func writeRect(h Host, ptr uint32) {
	if ptr == 0 {
		return
	}
	_ = h.WriteU32(ptr, 0)
	_ = h.WriteU32(ptr+4, 0)
	_ = h.WriteU32(ptr+8, 0)
	_ = h.WriteU32(ptr+12, 0)
}

func writeFrameInfo(h Host, ptr uint32) {
	if ptr == 0 {
		return
	}
	_ = h.WriteU32(ptr, 20)    // cb
	_ = h.WriteU32(ptr+4, 0)   // fMDIApp
	_ = h.WriteU32(ptr+8, 0)   // hwndFrame
	_ = h.WriteU32(ptr+12, 0)  // haccel
	_ = h.WriteU32(ptr+16, 0)  // cAccelEntries
}

func readPtr(h Host, base, offset uint32) uint32 {
	v, err := h.ReadU32(base + offset)
	if err != nil {
		return 0
	}
	return v
}

func guidMatches(h Host, ptr uint32, guid string) bool {
	expected, err := ParseGUID(guid)
	if err != nil {
		return false
	}
	var actual [16]byte
	for i := range actual {
		b, err := h.ReadU8(ptr + uint32(i))
		if err != nil {
			return false
		}
		actual[i] = b
	}
	return actual == expected
}
