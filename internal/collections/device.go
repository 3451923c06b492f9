package collections

import "encoding/hex"

// Device is a "Device item". Its id is ext_address (16 lowercase
// hex chars) and acts as the stable item id across discovery passes.
type Device struct {
	ExtAddress [8]byte
	Role       string // "child" | "router" | ""
	MleidIID   [8]byte
	HasMleidIID bool
	Eui64      [8]byte
	HasEui64   bool
	OMRIPv6    string // empty if unresolved
	Hostname   string
	LinkMode   string
	ModeFlags  bool
	NeedsUpdate bool

	// ThisDevice is non-nil only for the node's own device entry.
	ThisDevice *ThisDeviceInfo

	// Provisional marks a child device emitted from a router's ChildTable
	// before its own ExtAddress TLV has been learned via the collector's
	// follow-up Diagnostic Get. It is keyed by rloc16 instead of
	// ext_address. When the child's full record is later added under its
	// ext_address, the provisional item is not removed or updated: both
	// stay in the collection until FIFO eviction or Clear; see DESIGN.md.
	Provisional  bool
	ProvisionalRloc16 uint16
}

// ThisDeviceInfo carries the node-level info attached to the device whose
// ext_address equals this node's own, fill-device step 5.
type ThisDeviceInfo struct {
	BorderAgentID    string
	BorderAgentState string
	LeaderRloc16     string
	NetworkName      string
	Rloc16           string
	RouterCount      int
}

// ID returns the device's collection item id: lowercase hex of ExtAddress,
// or a provisional rloc16-keyed id for a not-yet-reconciled child.
func (d *Device) ID() string {
	if d.Provisional {
		return "rloc-" + hex.EncodeToString([]byte{byte(d.ProvisionalRloc16 >> 8), byte(d.ProvisionalRloc16)})
	}
	return hex.EncodeToString(d.ExtAddress[:])
}

// TypeName implements Item. ThisDevice is a distinct subtype from a plain
// Device for the node's own entry.
func (d *Device) TypeName() string {
	if d.ThisDevice != nil {
		return "ThisDevice"
	}
	return "Device"
}

// Attributes implements Item.
func (d *Device) Attributes() map[string]any {
	attrs := map[string]any{
		"ext_address":  d.ID(),
		"role":         d.Role,
		"hostname":     d.Hostname,
		"link_mode":    d.LinkMode,
		"mode_flags":   d.ModeFlags,
		"needs_update": d.NeedsUpdate,
	}
	if d.HasMleidIID {
		attrs["ml_eid_iid"] = hex.EncodeToString(d.MleidIID[:])
	}
	if d.HasEui64 {
		attrs["eui64"] = hex.EncodeToString(d.Eui64[:])
	}
	if d.OMRIPv6 != "" {
		attrs["omr_ipv6"] = d.OMRIPv6
	}
	if d.ThisDevice != nil {
		attrs["border_agent_id"] = d.ThisDevice.BorderAgentID
		attrs["border_agent_state"] = d.ThisDevice.BorderAgentState
		attrs["leader_rloc16"] = d.ThisDevice.LeaderRloc16
		attrs["network_name"] = d.ThisDevice.NetworkName
		attrs["rloc16"] = d.ThisDevice.Rloc16
		attrs["router_count"] = d.ThisDevice.RouterCount
	}
	return attrs
}

// RecomputeNeedsUpdate sets NeedsUpdate true whenever any of
// ml_eid_iid, eui64, omr_ipv6 is zero/unset.
func (d *Device) RecomputeNeedsUpdate() {
	d.NeedsUpdate = !d.HasMleidIID || !d.HasEui64 || d.OMRIPv6 == ""
}

var _ Item = (*Device)(nil)
