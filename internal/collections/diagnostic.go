package collections

import (
	"github.com/meshcore/tbr-agent/internal/ipclass"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// ChildTableEntry mirrors the wire child-table row, carried through to
// rendering untouched ("vectors of child entries").
type ChildTableEntry struct {
	ChildRloc     uint16 `json:"child_rloc"`
	Timeout       uint32 `json:"timeout"`
	RxOnWhenIdle  bool   `json:"rx_on_when_idle"`
	DeviceTypeFTD bool   `json:"device_type_ftd"`
	LinkQuality   uint8  `json:"link_quality"`
}

// RouterNeighborEntry mirrors a router neighbor-table row.
type RouterNeighborEntry struct {
	NeighborRloc uint16 `json:"neighbor_rloc"`
	LinkQuality  uint8  `json:"link_quality"`
}

// Diagnostic is a "Diagnostic item". Its id is a fresh uuid
// assigned on insertion (unlike Device, which is keyed by ext_address).
type Diagnostic struct {
	UUID string
	Kind string // "NetworkDiagnostics" | "EnergyScanReport"

	Rloc16 uint16
	TLVs   *tlv.Set

	ChildTable      []ChildTableEntry
	ChildIp6        map[uint16][]string
	RouterNeighbors []RouterNeighborEntry

	// EnergyScan rows, populated only for Kind == "EnergyScanReport".
	EnergyScanRows []EnergyScanRow

	// ServiceRole and IsBorderRouter are populated only for Kind ==
	// "NetworkDiagnostics", derived from the node's Ip6AddrList TLV and its
	// Network Data route-origin status respectively.
	ServiceRole    ipclass.ServiceRole
	IsBorderRouter bool
}

// EnergyScanRow is one per-channel RSSI measurement from an energy scan.
type EnergyScanRow struct {
	Channel uint8 `json:"channel"`
	RSSI    int8  `json:"rssi"`
}

func (d *Diagnostic) ID() string { return d.UUID }

// TypeName implements Item.
func (d *Diagnostic) TypeName() string { return d.Kind }

// Attributes implements Item.
func (d *Diagnostic) Attributes() map[string]any {
	attrs := map[string]any{
		"rloc16": d.Rloc16,
	}
	if d.TLVs != nil {
		tlvsOut := make([]map[string]any, 0, d.TLVs.Len())
		for _, v := range d.TLVs.All() {
			name, _ := tlv.NameByType(v.Type)
			tlvsOut = append(tlvsOut, map[string]any{"type": name, "raw": v.Raw})
		}
		attrs["tlvs"] = tlvsOut
	}
	if d.Kind == "NetworkDiagnostics" {
		if d.ChildTable != nil {
			attrs["child_table"] = d.ChildTable
		}
		if d.ChildIp6 != nil {
			attrs["child_ip6"] = d.ChildIp6
		}
		if d.RouterNeighbors != nil {
			attrs["router_neighbors"] = d.RouterNeighbors
		}
		attrs["service_role"] = map[string]any{
			"leader":          d.ServiceRole.Leader,
			"primary_bbr":     d.ServiceRole.PrimaryBBR,
			"hosts_service":   d.ServiceRole.HostsService,
			"border_router":   d.IsBorderRouter,
		}
	}
	if d.Kind == "EnergyScanReport" {
		attrs["rows"] = d.EnergyScanRows
	}
	return attrs
}

var _ Item = (*Diagnostic)(nil)
