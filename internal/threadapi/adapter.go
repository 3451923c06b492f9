// Package threadapi defines the thin, synchronous facade over the Thread
// stack that the collector drives. The NCP/RCP transport, the CoAP/DTLS
// stacks, and the wire TLV encoding are all out of scope for this agent:
// this package only states the contract the collector needs, injecting a
// narrow functional collaborator into a long-running manager rather than
// depending on a concrete transport.
package threadapi

import (
	"net"

	"github.com/meshcore/tbr-agent/internal/tlv"
)

// Rloc16 is a Thread routing locator. The low 9 bits are zero for a router.
type Rloc16 uint16

// IsRouter reports whether rloc denotes a router (low 9 bits zero).
func (r Rloc16) IsRouter() bool { return r&0x01FF == 0 }

// RouterID extracts the 6-bit router id encoded in the high bits of rloc.
func (r Rloc16) RouterID() uint8 { return uint8(r >> 10) }

// RlocFromRouterID reconstructs the router-anchor rloc16 for a router id,
// keyed by router_id << 10.
func RlocFromRouterID(id uint8) Rloc16 { return Rloc16(uint16(id) << 10) }

// RouterInfo is the subset of GetRouterInfo's result the collector needs to
// decide whether a router id is present in the current topology.
type RouterInfo struct {
	Rloc16     Rloc16
	ExtAddress [8]byte

	// IsBorderRouter reports whether this router's rloc16 is a route origin
	// in the local Network Data. Network Data TLV decoding is the Thread
	// stack's concern, out of scope for this package (see tlv's doc
	// comment); this field carries that already-decoded signal across the
	// adapter boundary rather than re-deriving it from wire bytes.
	IsBorderRouter bool
}

// DiagnosticGetCallback is invoked asynchronously when a unicast Diagnostic
// Get response (or its absence via timeout, handled by the collector's own
// timers) arrives. dest identifies which destination this response answers;
// tlvs is nil on transport failure.
type DiagnosticGetCallback func(dest net.IP, tlvs *tlv.Set, err error)

// ChildTableCallback delivers one streamed ChildTable response for a router.
type ChildTableCallback func(routerRloc Rloc16, entries []ChildTableEntry, err error)

// ChildTableEntry is one row of a router's child table.
type ChildTableEntry struct {
	ChildRloc      Rloc16
	Timeout        uint32
	RxOnWhenIdle   bool
	DeviceTypeFTD  bool
	LinkQuality    uint8
}

// ChildIp6Callback delivers the IPv6 address list a router reports for its
// children.
type ChildIp6Callback func(routerRloc Rloc16, children map[Rloc16][]net.IP, err error)

// RouterNeighborCallback delivers a router's reported neighbor table.
type RouterNeighborCallback func(routerRloc Rloc16, entries []RouterNeighborEntry, err error)

// RouterNeighborEntry is one row of a router's neighbor table.
type RouterNeighborEntry struct {
	NeighborRloc Rloc16
	LinkQuality  uint8
}

// Adapter is the synchronous facade the collector calls into. Every method
// returns immediately; results (if any) are delivered later through the
// callback registered with the matching Set...Callback method (see NewFake
// for the test double).
// Methods return an error synchronously only for conditions detectable at
// the call site (no-buffers, invalid-state); asynchronous failures are
// delivered to the callback instead.
type Adapter interface {
	// SendDiagnosticGet issues a CoAP Diagnostic Get to dest requesting the
	// given TLV types. The response is delivered via the DiagnosticGetCallback
	// registered with SetDiagnosticGetCallback.
	SendDiagnosticGet(dest net.IP, types []tlv.Type) error

	// SendDiagnosticReset sends a Diagnostic Reset multicast to the
	// realm-local all-thread-nodes address for the given counter TLV types.
	SendDiagnosticReset(types []tlv.Type) error

	// QueryChildTable issues a Mesh-Diag ChildTable query to a router.
	QueryChildTable(routerRloc Rloc16) error
	// QueryChildIp6Addrs issues a Mesh-Diag ChildIp6 query to a router.
	QueryChildIp6Addrs(routerRloc Rloc16) error
	// QueryRouterNeighbors issues a Mesh-Diag RouterNeighbor query to a router.
	QueryRouterNeighbors(routerRloc Rloc16) error

	// GetRouterInfo returns the router table entry for id, if present.
	GetRouterInfo(routerID uint8) (RouterInfo, bool)
	// MeshLocalPrefix returns the node's current mesh-local /64 prefix.
	MeshLocalPrefix() [8]byte
	// RlocPrefix returns the node's current RLOC /64 prefix.
	RlocPrefix() [8]byte
	// Rloc16 returns the node's own current rloc16.
	Rloc16() Rloc16
	// ExtAddress returns the node's own extended (MAC) address.
	ExtAddress() [8]byte

	// GetNextHost returns the next SRP host record after cursor (empty
	// cursor starts iteration), used to resolve a device's hostname from its
	// IPv6 address list when filling device records.
	GetNextHost(cursor string) (SrpHost, bool)

	SetDiagnosticGetCallback(cb DiagnosticGetCallback)
	SetChildTableCallback(cb ChildTableCallback)
	SetChildIp6Callback(cb ChildIp6Callback)
	SetRouterNeighborCallback(cb RouterNeighborCallback)

	// StartCommissioner petitions to become the active commissioner: the
	// request moves the commissioner from Petition to Active, driven by
	// callback. Synchronous success only means the petition was sent;
	// activation itself arrives via JoinerEventCallback.
	StartCommissioner() error
	// StopCommissioner posts a Commissioner Stop, issued once the number of
	// non-terminal allow-list entries drops to zero.
	StopCommissioner() error
	// AddJoiner registers a joiner EUI-64/PSK-d pair for the duration of
	// timeoutS seconds.
	AddJoiner(eui64 string, pskd string, timeoutS uint32) error
	// RemoveJoiner deregisters a joiner before it completes.
	RemoveJoiner(eui64 string) error
	// SetJoinerEventCallback registers the callback for joiner lifecycle
	// events (Start/Finalize/Removed), which the allowlist package maps
	// onto allow-list state transitions.
	SetJoinerEventCallback(cb JoinerEventCallback)

	// StartEnergyScan begins an energy scan across channelMask, collecting
	// count per-channel RSSI rows. Only one scan may be active at a time;
	// a concurrent attempt returns an error.
	StartEnergyScan(channelMask uint32, count uint16, period, scanDuration uint16) error
	// SetEnergyScanCallback registers the callback invoked once per
	// accumulated channel/RSSI measurement row.
	SetEnergyScanCallback(cb EnergyScanCallback)
}

// SrpHost is one SRP-advertised host record.
type SrpHost struct {
	Hostname  string
	Addresses []net.IP
}

// JoinerEventKind names a commissioner joiner lifecycle event.
type JoinerEventKind int

const (
	JoinerEventStart JoinerEventKind = iota
	JoinerEventFinalize
	JoinerEventRemoved
)

// JoinerEventCallback delivers one commissioner joiner lifecycle event.
type JoinerEventCallback func(eui64 string, kind JoinerEventKind)

// EnergyScanCallback delivers one energy-scan measurement row.
type EnergyScanCallback func(channel uint8, rssi int8)
