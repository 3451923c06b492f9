package collector

import (
	"log"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// onDiagnosticGet is the threadapi.DiagnosticGetCallback registered at
// construction. It merges a successful response into diag_set and drops an
// unparsable or failed one, continuing the cycle either way.
func (c *Collector) onDiagnosticGet(dest net.IP, tlvs *tlv.Set, err error) {
	c.mu.Lock()
	active := c.phase == PhaseWaiting || c.phase == PhasePending
	c.mu.Unlock()
	if !active {
		return // stale callback from a cancelled or already-finalised cycle
	}
	if err != nil || tlvs == nil {
		log.Printf("collector: diagnostic get from %s failed or unparsable: %v", dest, err)
		c.Poll()
		return
	}
	c.updateDiag(tlvs)
	c.mu.Lock()
	if c.queryPhase == PhaseWaiting {
		c.queryPhase = PhasePending
	}
	c.mu.Unlock()
	c.Poll()
}

// updateDiag extracts the ShortAddress TLV to find key=rloc16, then merges
// incoming TLVs into diag_set[key] with per-type replace semantics
// (tlv.Set.MergeReplace), resetting start_time.
func (c *Collector) updateDiag(incoming *tlv.Set) {
	shortAddr, ok := incoming.Get(tlv.TypeRloc16)
	if !ok || len(shortAddr.Raw) != 2 {
		log.Printf("collector: diagnostic response carries no ShortAddress TLV, dropping")
		return
	}
	key := threadapi.Rloc16(uint16(shortAddr.Raw[0])<<8 | uint16(shortAddr.Raw[1]))
	wantKey := correlationKey(c.currentGeneration(), key)

	if existing, ok := c.diagSet.Load(key); ok && existing.genKey != 0 && existing.genKey != wantKey {
		log.Printf("collector: dropping diagnostic response for rloc=%#04x from a superseded cycle", key)
		return
	}

	_, existed := c.diagSet.Load(key)
	c.diagSet.Compute(key, func(old *diagEntry, loaded bool) (*diagEntry, xsync.ComputeOp) {
		entry := old
		if !loaded {
			entry = &diagEntry{tlvs: tlv.NewSet()}
		}
		entry.tlvs.MergeReplace(incoming)
		entry.startTime = time.Now()
		entry.genKey = wantKey
		return entry, xsync.UpdateOp
	})

	if !existed {
		c.refreshQueryEntry(key)
	}
}

// onChildTable is the threadapi.ChildTableCallback, delivering one streamed
// Mesh-Diag ChildTable response for a router query issued by
// handleNextQuery.
func (c *Collector) onChildTable(routerRloc threadapi.Rloc16, entries []threadapi.ChildTableEntry, err error) {
	c.mu.Lock()
	active := c.queryPhase == PhasePending
	c.mu.Unlock()
	if !active {
		return
	}
	wantKey := correlationKey(c.currentGeneration(), routerRloc)
	if existing, ok := c.childTables.Load(routerRloc); ok && existing.genKey != 0 && existing.genKey != wantKey {
		return // response for a superseded cycle
	}
	if err != nil {
		log.Printf("collector: query_child_table rloc=%#04x failed: %v; will retry next tick", routerRloc, err)
		c.childTables.Compute(routerRloc, func(old *childTableEntry, loaded bool) (*childTableEntry, xsync.ComputeOp) {
			if !loaded {
				old = &childTableEntry{}
			}
			old.state = queryIdle
			old.genKey = wantKey
			return old, xsync.UpdateOp
		})
		c.Poll()
		return
	}
	c.childTables.Compute(routerRloc, func(old *childTableEntry, loaded bool) (*childTableEntry, xsync.ComputeOp) {
		if !loaded {
			old = &childTableEntry{}
		}
		old.state = queryDone
		old.entries = entries
		old.updateTime = time.Now()
		old.genKey = wantKey
		return old, xsync.UpdateOp
	})
	c.Poll()
}

// onChildIp6 is the threadapi.ChildIp6Callback.
func (c *Collector) onChildIp6(routerRloc threadapi.Rloc16, children map[threadapi.Rloc16][]net.IP, err error) {
	c.mu.Lock()
	active := c.queryPhase == PhasePending
	c.mu.Unlock()
	if !active {
		return
	}
	wantKey := correlationKey(c.currentGeneration(), routerRloc)
	if existing, ok := c.childIp6s.Load(routerRloc); ok && existing.genKey != 0 && existing.genKey != wantKey {
		return // response for a superseded cycle
	}
	if err != nil {
		log.Printf("collector: query_child_ip6 rloc=%#04x failed: %v; will retry next tick", routerRloc, err)
		c.childIp6s.Compute(routerRloc, func(old *childIp6Entry, loaded bool) (*childIp6Entry, xsync.ComputeOp) {
			if !loaded {
				old = &childIp6Entry{children: map[threadapi.Rloc16][]net.IP{}}
			}
			old.state = queryIdle
			old.genKey = wantKey
			return old, xsync.UpdateOp
		})
		c.Poll()
		return
	}
	c.childIp6s.Compute(routerRloc, func(old *childIp6Entry, loaded bool) (*childIp6Entry, xsync.ComputeOp) {
		if !loaded {
			old = &childIp6Entry{}
		}
		old.state = queryDone
		old.children = children
		old.updateTime = time.Now()
		old.genKey = wantKey
		return old, xsync.UpdateOp
	})
	c.Poll()
}

// onRouterNeighbors is the threadapi.RouterNeighborCallback.
func (c *Collector) onRouterNeighbors(routerRloc threadapi.Rloc16, entries []threadapi.RouterNeighborEntry, err error) {
	c.mu.Lock()
	active := c.queryPhase == PhasePending
	c.mu.Unlock()
	if !active {
		return
	}
	wantKey := correlationKey(c.currentGeneration(), routerRloc)
	if existing, ok := c.routerNeighbors.Load(routerRloc); ok && existing.genKey != 0 && existing.genKey != wantKey {
		return // response for a superseded cycle
	}
	if err != nil {
		log.Printf("collector: query_router_neighbors rloc=%#04x failed: %v; will retry next tick", routerRloc, err)
		c.routerNeighbors.Compute(routerRloc, func(old *routerNeighborEntry, loaded bool) (*routerNeighborEntry, xsync.ComputeOp) {
			if !loaded {
				old = &routerNeighborEntry{}
			}
			old.state = queryIdle
			old.genKey = wantKey
			return old, xsync.UpdateOp
		})
		c.Poll()
		return
	}
	c.routerNeighbors.Compute(routerRloc, func(old *routerNeighborEntry, loaded bool) (*routerNeighborEntry, xsync.ComputeOp) {
		if !loaded {
			old = &routerNeighborEntry{}
		}
		old.state = queryDone
		old.entries = entries
		old.updateTime = time.Now()
		old.genKey = wantKey
		return old, xsync.UpdateOp
	})
	c.Poll()
}
