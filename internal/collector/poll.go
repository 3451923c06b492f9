package collector

import (
	"log"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// defaultRequestTLVs and defaultQueryTLVs are the TLV sets a full-mesh
// discovery sweep requests by default.
var defaultRequestTLVs = []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16, tlv.TypeIp6AddressList}
var defaultQueryTLVs = []tlv.Type{tlv.TypeChildTable, tlv.TypeChildrenIp6, tlv.TypeNeighbors}

// RetryDelayFTD gates how soon an unanswered unicast Diagnostic Get may be
// resent: a retry fires once lastAttemptAt is older than this interval.
// The collector always uses this constant; RuntimeConfig's retry_delay_ftd
// field is not read here.
const RetryDelayFTD = 5 * time.Second

// rlocToIP reconstructs the RLOC-prefixed IPv6 address for rloc using the
// adapter's current RLOC /64 prefix, for discovery's per-router unicast
// sends (no destination string to resolve in that path).
func rlocToIP(prefix [8]byte, rloc threadapi.Rloc16) net.IP {
	ip := make(net.IP, 16)
	copy(ip[0:8], prefix[:])
	ip[14] = byte(rloc >> 8)
	ip[15] = byte(rloc)
	return ip
}

// StartDiscovery begins a full-mesh sweep with no single destination,
// populating the devices collection. Must be called after Configure.
func (c *Collector) StartDiscovery(relationshipKind RelationshipKind) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return &ErrInvalidState{Reason: "start_discovery called while a cycle is active"}
	}
	c.relationshipKind = relationshipKind
	c.requestTLVTypes = defaultRequestTLVs
	c.queryTLVTypes = defaultQueryTLVs
	c.phase = PhasePending
	c.queryPhase = PhaseIdle
	c.retries = 0
	c.lastAttemptAt = time.Now()
	c.mu.Unlock()

	rlocPrefix := c.adapter.RlocPrefix()
	present := map[threadapi.Rloc16]bool{}
	for id := uint8(0); id <= MaxRouterID; id++ {
		info, ok := c.adapter.GetRouterInfo(id)
		if !ok {
			continue
		}
		present[info.Rloc16] = true
		c.refreshDiagEntry(info.Rloc16)
		c.refreshQueryEntry(info.Rloc16)
	}
	c.pruneMissing(present)
	c.ageOutChildren()

	c.mu.Lock()
	types := c.requestTLVTypes
	c.lastAttemptAt = time.Now()
	c.mu.Unlock()

	for rloc := range present {
		if err := c.adapter.SendDiagnosticGet(rlocToIP(rlocPrefix, rloc), types); err != nil {
			log.Printf("collector: send_diagnostic_get to router rloc=%#04x failed: %v", rloc, err)
		}
	}

	c.mu.Lock()
	c.queryPhase = PhasePending
	c.mu.Unlock()
	return nil
}

// HandleAction begins the unicast diagnostic path for a single resolved
// destination, as driven by a network-diagnostic action. dest has already
// been resolved via ipclass.Resolver; types is the caller's requested TLV
// list before the request/query split.
func (c *Collector) HandleAction(dest net.IP, types []tlv.Type, relationshipKind RelationshipKind) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return &ErrInvalidState{Reason: "handle_action called while a cycle is active"}
	}
	c.relationshipKind = relationshipKind
	c.destIP6 = dest

	var requestTypes, queryTypes []tlv.Type
	hasShortAddress := false
	for _, t := range types {
		if tlv.IsQueryType(t) {
			queryTypes = append(queryTypes, t)
			continue
		}
		requestTypes = append(requestTypes, t)
		if t == tlv.TypeRloc16 {
			hasShortAddress = true
		}
	}
	if !hasShortAddress {
		requestTypes = append(requestTypes, tlv.TypeRloc16)
	}
	c.requestTLVTypes = requestTypes
	c.queryTLVTypes = queryTypes
	c.phase = PhaseWaiting
	c.queryPhase = PhaseWaiting
	c.retries = 0
	c.lastAttemptAt = time.Now()
	c.mu.Unlock()

	if err := c.adapter.SendDiagnosticGet(dest, requestTypes); err != nil {
		c.finalize(false)
		return err
	}
	return nil
}

// refreshDiagEntry seeds or re-stamps diag_set[rloc] for the cycle now
// starting. The genKey is refreshed even on an existing entry so a response
// that was still in flight from a superseded cycle fails its correlation
// check in updateDiag rather than silently merging into the new cycle.
func (c *Collector) refreshDiagEntry(rloc threadapi.Rloc16) {
	key := correlationKey(c.currentGeneration(), rloc)
	c.diagSet.Compute(rloc, func(old *diagEntry, loaded bool) (*diagEntry, xsync.ComputeOp) {
		if loaded {
			old.genKey = key
			return old, xsync.UpdateOp
		}
		return &diagEntry{startTime: time.Now(), tlvs: tlv.NewSet(), genKey: key}, xsync.UpdateOp
	})
}

func (c *Collector) refreshQueryEntry(rloc threadapi.Rloc16) {
	key := correlationKey(c.currentGeneration(), rloc)
	c.childTables.Compute(rloc, func(old *childTableEntry, loaded bool) (*childTableEntry, xsync.ComputeOp) {
		if loaded {
			old.genKey = key
			return old, xsync.UpdateOp
		}
		return &childTableEntry{state: queryIdle, genKey: key}, xsync.UpdateOp
	})
	c.childIp6s.Compute(rloc, func(old *childIp6Entry, loaded bool) (*childIp6Entry, xsync.ComputeOp) {
		if loaded {
			old.genKey = key
			return old, xsync.UpdateOp
		}
		return &childIp6Entry{state: queryIdle, children: map[threadapi.Rloc16][]net.IP{}, genKey: key}, xsync.UpdateOp
	})
	c.routerNeighbors.Compute(rloc, func(old *routerNeighborEntry, loaded bool) (*routerNeighborEntry, xsync.ComputeOp) {
		if loaded {
			old.genKey = key
			return old, xsync.UpdateOp
		}
		return &routerNeighborEntry{state: queryIdle, genKey: key}, xsync.UpdateOp
	})
}

func (c *Collector) pruneMissing(present map[threadapi.Rloc16]bool) {
	c.diagSet.Range(func(rloc threadapi.Rloc16, _ *diagEntry) bool {
		if rloc.IsRouter() && !present[rloc] {
			c.diagSet.Delete(rloc)
			c.childTables.Delete(rloc)
			c.childIp6s.Delete(rloc)
			c.routerNeighbors.Delete(rloc)
		}
		return true
	})
}

// ageOutChildren drops diag_set entries keyed below 0x0200 (children) older
// than max_age, so a stale, unreachable child does not linger forever.
func (c *Collector) ageOutChildren() {
	c.mu.Lock()
	cutoff := c.maxAge
	c.mu.Unlock()
	c.diagSet.Range(func(rloc threadapi.Rloc16, entry *diagEntry) bool {
		if rloc < 0x0200 && entry.startTime.Before(cutoff) {
			c.diagSet.Delete(rloc)
		}
		return true
	})
}

// Poll advances the active cycle: invoked on every response callback and,
// while a getNetworkDiagnosticTask action is active, on each action-queue
// tick through that handler's Evaluate. It drives retries, the streamed
// query phase, and finalisation.
func (c *Collector) Poll() {
	c.mu.Lock()
	if c.phase == PhaseIdle || c.phase == PhaseDone {
		c.mu.Unlock()
		return
	}
	if time.Now().After(c.timeoutAt) {
		c.mu.Unlock()
		c.finalize(false)
		return
	}
	if c.queryPhase == PhaseWaiting {
		if time.Since(c.lastAttemptAt) > RetryDelayFTD {
			if c.retries < c.maxRetries {
				c.retries++
				dest := c.destIP6
				types := c.requestTLVTypes
				c.lastAttemptAt = time.Now()
				c.mu.Unlock()
				if err := c.adapter.SendDiagnosticGet(dest, types); err != nil {
					log.Printf("collector: retry send_diagnostic_get failed: %v", err)
				}
				return
			}
			c.mu.Unlock()
			c.finalize(false)
			return
		}
		c.mu.Unlock()
		return
	}
	if c.queryPhase == PhasePending {
		c.mu.Unlock()
		if !c.handleNextQuery() {
			return
		}
		c.mu.Lock()
		c.queryPhase = PhaseDone
		c.mu.Unlock()
		c.pollFTDChildren()
		if c.diagSetComplete() {
			c.finalize(true)
		}
		return
	}
	if c.queryPhase == PhaseDone {
		c.mu.Unlock()
		c.pollFTDChildren()
		if c.diagSetComplete() {
			c.finalize(true)
		}
		return
	}
	c.mu.Unlock()
}

// handleNextQuery issues each configured Mesh-Diag sub-query that is still
// Idle for every router in diag_set, and reports whether every sub-query
// has reached Done. There is no update_time staleness check: a sub-query
// already Done is not reissued within the cycle.
func (c *Collector) handleNextQuery() bool {
	allDone := true
	c.diagSet.Range(func(rloc threadapi.Rloc16, _ *diagEntry) bool {
		if !rloc.IsRouter() {
			return true
		}
		for _, qt := range c.queryTLVTypes {
			switch qt {
			case tlv.TypeChildTable:
				if !c.issueChildTableQuery(rloc) {
					allDone = false
				}
			case tlv.TypeChildrenIp6:
				if !c.issueChildIp6Query(rloc) {
					allDone = false
				}
			case tlv.TypeNeighbors:
				if !c.issueRouterNeighborQuery(rloc) {
					allDone = false
				}
			}
		}
		return true
	})
	return allDone
}

func (c *Collector) issueChildTableQuery(rloc threadapi.Rloc16) (done bool) {
	entry, ok := c.childTables.Load(rloc)
	if !ok || entry.state == queryDone {
		return true
	}
	if entry.state == queryWaiting || entry.state == queryPending {
		return false
	}
	if err := c.adapter.QueryChildTable(rloc); err != nil {
		log.Printf("collector: query_child_table rloc=%#04x failed: %v", rloc, err)
		return false
	}
	c.childTables.Compute(rloc, func(old *childTableEntry, loaded bool) (*childTableEntry, xsync.ComputeOp) {
		if !loaded {
			old = &childTableEntry{}
		}
		old.state = queryPending
		return old, xsync.UpdateOp
	})
	return false
}

func (c *Collector) issueChildIp6Query(rloc threadapi.Rloc16) (done bool) {
	entry, ok := c.childIp6s.Load(rloc)
	if !ok || entry.state == queryDone {
		return true
	}
	if entry.state == queryWaiting || entry.state == queryPending {
		return false
	}
	if err := c.adapter.QueryChildIp6Addrs(rloc); err != nil {
		log.Printf("collector: query_child_ip6 rloc=%#04x failed: %v", rloc, err)
		return false
	}
	c.childIp6s.Compute(rloc, func(old *childIp6Entry, loaded bool) (*childIp6Entry, xsync.ComputeOp) {
		if !loaded {
			old = &childIp6Entry{children: map[threadapi.Rloc16][]net.IP{}}
		}
		old.state = queryPending
		return old, xsync.UpdateOp
	})
	return false
}

func (c *Collector) issueRouterNeighborQuery(rloc threadapi.Rloc16) (done bool) {
	entry, ok := c.routerNeighbors.Load(rloc)
	if !ok || entry.state == queryDone {
		return true
	}
	if entry.state == queryWaiting || entry.state == queryPending {
		return false
	}
	if err := c.adapter.QueryRouterNeighbors(rloc); err != nil {
		log.Printf("collector: query_router_neighbors rloc=%#04x failed: %v", rloc, err)
		return false
	}
	c.routerNeighbors.Compute(rloc, func(old *routerNeighborEntry, loaded bool) (*routerNeighborEntry, xsync.ComputeOp) {
		if !loaded {
			old = &routerNeighborEntry{}
		}
		old.state = queryPending
		return old, xsync.UpdateOp
	})
	return false
}

// pollFTDChildren scans child_tables for FTD children (rx-on-when-idle and
// device-type FTD) not yet present in diag_set, seeds a placeholder entry,
// and schedules another Diagnostic Get for each.
func (c *Collector) pollFTDChildren() {
	rlocPrefix := c.adapter.RlocPrefix()
	types := func() []tlv.Type {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.requestTLVTypes
	}()
	c.childTables.Range(func(routerRloc threadapi.Rloc16, entry *childTableEntry) bool {
		for _, child := range entry.entries {
			if !(child.RxOnWhenIdle && child.DeviceTypeFTD) {
				continue
			}
			if _, exists := c.diagSet.Load(child.ChildRloc); exists {
				continue
			}
			key := correlationKey(c.currentGeneration(), child.ChildRloc)
			c.diagSet.Store(child.ChildRloc, &diagEntry{startTime: time.Now(), tlvs: tlv.NewSet(), genKey: key})
			if err := c.adapter.SendDiagnosticGet(rlocToIP(rlocPrefix, child.ChildRloc), types); err != nil {
				log.Printf("collector: ftd re-query send_diagnostic_get rloc=%#04x failed: %v", child.ChildRloc, err)
			}
		}
		return true
	})
}

// PendingCount reports how many diag_set entries have not yet received any
// TLV data, surfacing an in-flight cycle's partial progress (used by the
// discovery POST endpoint when it returns early on timeout).
func (c *Collector) PendingCount() int {
	n := 0
	c.diagSet.Range(func(_ threadapi.Rloc16, entry *diagEntry) bool {
		if entry.tlvs == nil || entry.tlvs.Len() == 0 {
			n++
		}
		return true
	})
	return n
}

// diagSetComplete reports Done-phase completion for this cycle: either
// every diag_set entry has a non-empty TLV vector, or the retry budget is
// exhausted (retries >= maxRetries). Either condition alone suffices.
func (c *Collector) diagSetComplete() bool {
	c.mu.Lock()
	retriesExhausted := c.retries >= c.maxRetries
	c.mu.Unlock()

	allFilled := true
	c.diagSet.Range(func(_ threadapi.Rloc16, entry *diagEntry) bool {
		if entry.tlvs == nil || entry.tlvs.Len() == 0 {
			allFilled = false
			return false
		}
		return true
	})
	return allFilled || retriesExhausted
}
