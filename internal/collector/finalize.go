package collector

import (
	"net"

	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/threadapi"
)

// finalize concludes a cycle: on success, emits Device or Diagnostic items
// per the configured relationship kind; on timeout, the same but from
// whatever partial data was gathered. Either way it stamps the
// relationship, invokes the done callback exactly once, and returns the
// collector to Idle.
func (c *Collector) finalize(success bool) {
	c.mu.Lock()
	if c.phase == PhaseIdle {
		c.mu.Unlock()
		return // already finalised (e.g. raced with a concurrent Poll)
	}
	kind := c.relationshipKind
	done := c.done
	c.phase = PhaseIdle
	c.queryPhase = PhaseIdle
	c.done = nil
	c.generation++
	c.mu.Unlock()

	raw := c.snapshotRawDiag()

	var itemID string
	switch kind {
	case RelationshipDevices:
		collections.FillDevices(
			c.devices,
			raw,
			c.adapter.MeshLocalPrefix(),
			c.adapter.ExtAddress(),
			c.srpLookup,
			c.ownInfo,
		)
	case RelationshipDiagnostics:
		itemID = collections.FillDiagnostics(
			c.diagnostics,
			raw,
			c.newUUID,
			uint16(c.adapter.Rloc16()),
			c.borderRoutingCounters,
			c.isBorderRouter,
		)
	}

	if done != nil {
		done(Relationship{Kind: kind, ID: itemID}, success)
	}
}

// isBorderRouter reports whether rloc16's router-id entry in the router
// table carries the Network-Data-derived border-router signal.
func (c *Collector) isBorderRouter(rloc16 uint16) bool {
	info, ok := c.adapter.GetRouterInfo(threadapi.Rloc16(rloc16).RouterID())
	return ok && info.IsBorderRouter
}

// snapshotRawDiag assembles collections.RawDiag rows from the collector's
// four internal maps, for FillDevices/FillDiagnostics to consume without
// importing collector internals (see collections.RawDiag's doc comment).
func (c *Collector) snapshotRawDiag() map[uint16]collections.RawDiag {
	out := map[uint16]collections.RawDiag{}
	c.diagSet.Range(func(rloc threadapi.Rloc16, entry *diagEntry) bool {
		out[uint16(rloc)] = collections.RawDiag{Rloc16: uint16(rloc), TLVs: entry.tlvs}
		return true
	})

	c.childTables.Range(func(rloc threadapi.Rloc16, entry *childTableEntry) bool {
		row := out[uint16(rloc)]
		row.Rloc16 = uint16(rloc)
		row.ChildTable = toCollectionsChildTable(entry.entries)
		out[uint16(rloc)] = row
		return true
	})
	c.childIp6s.Range(func(rloc threadapi.Rloc16, entry *childIp6Entry) bool {
		row := out[uint16(rloc)]
		row.Rloc16 = uint16(rloc)
		row.ChildIp6 = toCollectionsChildIp6(entry.children)
		out[uint16(rloc)] = row
		return true
	})
	c.routerNeighbors.Range(func(rloc threadapi.Rloc16, entry *routerNeighborEntry) bool {
		row := out[uint16(rloc)]
		row.Rloc16 = uint16(rloc)
		row.RouterNeighbors = toCollectionsRouterNeighbors(entry.entries)
		out[uint16(rloc)] = row
		return true
	})
	return out
}

func toCollectionsChildTable(in []threadapi.ChildTableEntry) []collections.ChildTableEntry {
	if in == nil {
		return nil
	}
	out := make([]collections.ChildTableEntry, len(in))
	for i, e := range in {
		out[i] = collections.ChildTableEntry{
			ChildRloc:     uint16(e.ChildRloc),
			Timeout:       e.Timeout,
			RxOnWhenIdle:  e.RxOnWhenIdle,
			DeviceTypeFTD: e.DeviceTypeFTD,
			LinkQuality:   e.LinkQuality,
		}
	}
	return out
}

func toCollectionsChildIp6(in map[threadapi.Rloc16][]net.IP) map[uint16][]net.IP {
	if in == nil {
		return nil
	}
	out := make(map[uint16][]net.IP, len(in))
	for k, v := range in {
		out[uint16(k)] = v
	}
	return out
}

func toCollectionsRouterNeighbors(in []threadapi.RouterNeighborEntry) []collections.RouterNeighborEntry {
	if in == nil {
		return nil
	}
	out := make([]collections.RouterNeighborEntry, len(in))
	for i, e := range in {
		out[i] = collections.RouterNeighborEntry{NeighborRloc: uint16(e.NeighborRloc), LinkQuality: e.LinkQuality}
	}
	return out
}
