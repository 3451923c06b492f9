package collections

import (
	"encoding/hex"
	"log"
	"net"

	"github.com/meshcore/tbr-agent/internal/ipclass"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// RawDiag is the collector's per-rloc accumulated state that FillDevices and
// FillDiagnostics read from. It is a narrow view carved out of the
// collector's internal diag_set/child_tables/child_ip6s/router_neighbors
// maps, kept here rather than importing the collector package so
// collections has no dependency on collector internals.
type RawDiag struct {
	Rloc16          uint16
	TLVs            *tlv.Set
	ChildTable      []ChildTableEntry
	ChildIp6        map[uint16][]net.IP
	RouterNeighbors []RouterNeighborEntry
}

// SrpHostnameLookup resolves a hostname for a device from its reported
// address list against SRP host records. The implementation wired in
// cmd/tbr-agent (srpLookupFrom) returns the first host with an address
// exactly equal to one of addrs; no prefix matching is done. The SRP
// advertising proxy itself is out of scope; this is the interface boundary
// to it.
type SrpHostnameLookup func(addrs []net.IP) (hostname string, ok bool)

// FillDevices builds or updates a Device item (or ThisDevice, for the
// node's own ext_address) from each diag_set[rloc] entry and upserts it
// into devices.
func FillDevices(
	devices *Collection,
	diagSet map[uint16]RawDiag,
	meshLocalPrefix [8]byte,
	ownExtAddress [8]byte,
	srpLookup SrpHostnameLookup,
	thisDeviceInfo func() ThisDeviceInfo,
) {
	for rloc, raw := range diagSet {
		dev := &Device{NeedsUpdate: true}
		var extSet bool
		var ip6List []net.IP

		for _, v := range raw.TLVs.All() {
			switch v.Type {
			case tlv.TypeExtAddress:
				if len(v.Raw) == 8 {
					copy(dev.ExtAddress[:], v.Raw)
					extSet = true
				}
			case tlv.TypeRloc16:
				short := decodeUint16(v.Raw)
				if short&0x01FF != 0 {
					dev.Role = "child"
				} else {
					dev.Role = "router"
					dev.ModeFlags = true
					dev.NeedsUpdate = false
					fillChildrenFromRouter(devices, rloc, raw, meshLocalPrefix)
				}
			case tlv.TypeEui64:
				if len(v.Raw) == 8 {
					copy(dev.Eui64[:], v.Raw)
					dev.HasEui64 = true
				}
			case tlv.TypeIp6AddressList:
				ip6List = decodeIPList(v.Raw)
				mleidIID, hasMleid, omr := ipclass.FoldAddresses(ip6List, meshLocalPrefix)
				if hasMleid {
					dev.MleidIID = mleidIID
					dev.HasMleidIID = true
				}
				if omr != nil {
					dev.OMRIPv6 = omr.String()
				}
				if srpLookup != nil {
					if hostname, ok := srpLookup(ip6List); ok {
						dev.Hostname = hostname
					}
				}
			}
		}

		if !extSet {
			log.Printf("collections: diag_set[rloc=%#04x] has no ExtAddress TLV, skipping device fill", rloc)
			continue
		}

		if dev.Role != "router" {
			dev.RecomputeNeedsUpdate()
		}

		if dev.ExtAddress == ownExtAddress {
			info := thisDeviceInfo()
			dev.ThisDevice = &info
		}

		upsertDevice(devices, dev)
	}
}

// upsertDevice inserts incoming if new; if an entry already exists, it
// updates only the non-empty fields rather than replacing the record.
func upsertDevice(devices *Collection, incoming *Device) {
	id := incoming.ID()
	existingItem, _, _, ok := devices.Get(id)
	if !ok {
		devices.Add(id, incoming)
		return
	}
	existing, ok := existingItem.(*Device)
	if !ok {
		devices.Add(id, incoming)
		return
	}
	merged := *existing
	if incoming.Role != "" {
		merged.Role = incoming.Role
	}
	if incoming.HasMleidIID {
		merged.MleidIID = incoming.MleidIID
		merged.HasMleidIID = true
	}
	if incoming.HasEui64 {
		merged.Eui64 = incoming.Eui64
		merged.HasEui64 = true
	}
	if incoming.OMRIPv6 != "" {
		merged.OMRIPv6 = incoming.OMRIPv6
	}
	if incoming.Hostname != "" {
		merged.Hostname = incoming.Hostname
	}
	if incoming.ModeFlags {
		merged.ModeFlags = true
	}
	if incoming.ThisDevice != nil {
		merged.ThisDevice = incoming.ThisDevice
	}
	merged.NeedsUpdate = incoming.NeedsUpdate
	devices.Add(id, &merged)
}

// fillChildrenFromRouter emits child Device items discovered via a router's
// ChildTable/ChildIp6 vectors.
func fillChildrenFromRouter(devices *Collection, routerRloc uint16, raw RawDiag, meshLocalPrefix [8]byte) {
	ip6ByChild := raw.ChildIp6
	for _, child := range raw.ChildTable {
		dev := &Device{
			Role:              "child",
			Provisional:       true,
			ProvisionalRloc16: child.ChildRloc,
		}
		if addrs, ok := ip6ByChild[child.ChildRloc]; ok {
			mleidIID, hasMleid, omr := ipclass.FoldAddresses(addrs, meshLocalPrefix)
			if hasMleid {
				dev.MleidIID = mleidIID
				dev.HasMleidIID = true
			}
			if omr != nil {
				dev.OMRIPv6 = omr.String()
			}
		}
		dev.RecomputeNeedsUpdate()
		devices.Add(dev.ID(), dev)
	}
}

func decodeUint16(raw []byte) uint16 {
	if len(raw) < 2 {
		return 0
	}
	return uint16(raw[0])<<8 | uint16(raw[1])
}

func decodeIPList(raw []byte) []net.IP {
	var out []net.IP
	for i := 0; i+16 <= len(raw); i += 16 {
		ip := make(net.IP, 16)
		copy(ip, raw[i:i+16])
		out = append(out, ip)
	}
	return out
}

// FillDiagnostics creates a NetworkDiagnostics item for each diag_set[rloc]
// entry with a non-empty TLV set, carrying the raw TLVs plus the
// per-router query-TLV aggregates, inserts it, and returns the new item's
// uuid (the last one created is what the caller stamps onto the Action's
// relationship).
func FillDiagnostics(
	diagnostics *Collection,
	diagSet map[uint16]RawDiag,
	newUUID func() string,
	ownRloc16 uint16,
	borderRoutingCounters func() *tlv.Set,
	isBorderRouter func(rloc16 uint16) bool,
) (lastUUID string) {
	for rloc, raw := range diagSet {
		if raw.TLVs == nil || raw.TLVs.Len() == 0 {
			continue
		}
		merged := tlv.NewSet()
		merged.MergeReplace(raw.TLVs)
		if rloc == ownRloc16 && borderRoutingCounters != nil {
			if extra := borderRoutingCounters(); extra != nil {
				merged.MergeReplace(extra)
			}
		}

		var role ipclass.ServiceRole
		if v, ok := merged.Get(tlv.TypeIp6AddressList); ok {
			role = ipclass.FoldServiceRoles(decodeIPList(v.Raw))
		}

		id := newUUID()
		diag := &Diagnostic{
			UUID:            id,
			Kind:            "NetworkDiagnostics",
			Rloc16:          rloc,
			TLVs:            merged,
			ChildTable:      raw.ChildTable,
			ChildIp6:        ipListsToStrings(raw.ChildIp6),
			RouterNeighbors: raw.RouterNeighbors,
			ServiceRole:     role,
			IsBorderRouter:  isBorderRouter != nil && isBorderRouter(rloc),
		}
		diagnostics.Add(id, diag)
		lastUUID = id
	}
	return lastUUID
}

func ipListsToStrings(in map[uint16][]net.IP) map[uint16][]string {
	if in == nil {
		return nil
	}
	out := make(map[uint16][]string, len(in))
	for k, v := range in {
		ss := make([]string, len(v))
		for i, ip := range v {
			ss[i] = ip.String()
		}
		out[k] = ss
	}
	return out
}
