// Package collector implements the mesh network diagnostic state machine:
// the Collector issues unicast CoAP Diagnostic Get requests and Mesh-Diag
// queries through the threadapi.Adapter, retries/ages/deduplicates responses, and on
// completion emits Device or Diagnostic items into the collections package.
package collector

import (
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// Phase and QueryPhase values.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhasePending
	PhaseDone
)

// RelationshipKind names which collection a finished cycle's results land
// in, stamped onto Action.relationship.
type RelationshipKind string

const (
	RelationshipDevices     RelationshipKind = "devices"
	RelationshipDiagnostics RelationshipKind = "diagnostics"
)

// Relationship is stamped onto the owning Action when a cycle finalises.
type Relationship struct {
	Kind RelationshipKind
	ID   string
}

// DoneFunc is invoked exactly once when a cycle finalises, successfully or
// by timeout. The Collector holds no other reference to the Action beyond
// this callback, which it uses only to stamp the result relationship on
// completion.
type DoneFunc func(rel Relationship, success bool)

// MaxRouterID bounds the router-id enumeration in StartDiscovery: Thread
// networks support router ids 0..62.
const MaxRouterID = 62

// queryState tracks one of the three streamed Mesh-Diag sub-queries for a
// single router: update_time, state, entries[].
type queryState int

const (
	queryIdle queryState = iota
	queryWaiting
	queryPending
	queryDone
)

type diagEntry struct {
	startTime time.Time
	tlvs      *tlv.Set
	genKey    uint64
}

type childTableEntry struct {
	updateTime time.Time
	state      queryState
	entries    []threadapi.ChildTableEntry
	genKey     uint64
}

type childIp6Entry struct {
	updateTime time.Time
	state      queryState
	children   map[threadapi.Rloc16][]net.IP
	genKey     uint64
}

type routerNeighborEntry struct {
	updateTime time.Time
	state      queryState
	entries    []threadapi.RouterNeighborEntry
	genKey     uint64
}

// Collector is the diagnostic state machine. One Collector instance owns
// one collection cycle at a time: at most one collection cycle may be
// active.
type Collector struct {
	adapter     threadapi.Adapter
	devices     *collections.Collection
	diagnostics *collections.Collection
	newUUID     func() string
	srpLookup   collections.SrpHostnameLookup
	ownInfo     func() collections.ThisDeviceInfo
	borderRoutingCounters func() *tlv.Set

	diagSet         *xsync.Map[threadapi.Rloc16, *diagEntry]
	childTables     *xsync.Map[threadapi.Rloc16, *childTableEntry]
	childIp6s       *xsync.Map[threadapi.Rloc16, *childIp6Entry]
	routerNeighbors *xsync.Map[threadapi.Rloc16, *routerNeighborEntry]

	mu sync.Mutex

	phase      Phase
	queryPhase Phase

	generation uint64 // bumped on configure/cancel; guards stale callbacks

	timeoutAt     time.Time
	maxAge        time.Time
	maxRetries    int
	retries       int
	lastAttemptAt time.Time

	destIP6          net.IP
	relationshipKind RelationshipKind
	done             DoneFunc

	requestTLVTypes []tlv.Type
	queryTLVTypes   []tlv.Type

	unicastRloc threadapi.Rloc16 // correlation key for the single unicast target, when handle_action is used
}

// New constructs a Collector. newUUID mints ids for emitted Diagnostic
// items; srpLookup and ownInfo/borderRoutingCounters are the interface
// boundaries to the SRP advertising proxy and the local node's own status,
// both out of scope for this agent.
func New(
	adapter threadapi.Adapter,
	devices, diagnostics *collections.Collection,
	newUUID func() string,
	srpLookup collections.SrpHostnameLookup,
	ownInfo func() collections.ThisDeviceInfo,
	borderRoutingCounters func() *tlv.Set,
) *Collector {
	c := &Collector{
		adapter:               adapter,
		devices:               devices,
		diagnostics:           diagnostics,
		newUUID:               newUUID,
		srpLookup:             srpLookup,
		ownInfo:               ownInfo,
		borderRoutingCounters: borderRoutingCounters,
		diagSet:               xsync.NewMap[threadapi.Rloc16, *diagEntry](),
		childTables:           xsync.NewMap[threadapi.Rloc16, *childTableEntry](),
		childIp6s:             xsync.NewMap[threadapi.Rloc16, *childIp6Entry](),
		routerNeighbors:       xsync.NewMap[threadapi.Rloc16, *routerNeighborEntry](),
	}
	adapter.SetDiagnosticGetCallback(c.onDiagnosticGet)
	adapter.SetChildTableCallback(c.onChildTable)
	adapter.SetChildIp6Callback(c.onChildIp6)
	adapter.SetRouterNeighborCallback(c.onRouterNeighbors)
	return c
}

// ErrInvalidState is returned by Configure/StartDiscovery/HandleAction when
// called while another cycle is active.
type ErrInvalidState struct{ Reason string }

func (e *ErrInvalidState) Error() string { return "collector: invalid state: " + e.Reason }

// Configure clamps timeout into [10s,100s] and max_age into [30s,300s],
// records deadlines, and fails with ErrInvalidState unless the collector is
// idle.
func (c *Collector) Configure(timeout, maxAge time.Duration, retries int, done DoneFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return &ErrInvalidState{Reason: "configure called while a cycle is active"}
	}
	now := time.Now()
	c.timeoutAt = now.Add(clampTimeout(timeout))
	c.maxAge = now.Add(-clampMaxAge(maxAge))
	c.maxRetries = retries
	c.retries = 0
	c.done = done
	c.generation++
	return nil
}

func clampTimeout(d time.Duration) time.Duration {
	const lo, hi = 10 * time.Second, 100 * time.Second
	return clampDuration(d, lo, hi)
}

func clampMaxAge(d time.Duration) time.Duration {
	const lo, hi = 30 * time.Second, 300 * time.Second
	return clampDuration(d, lo, hi)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Cancel resets both phases to Idle and drops the done callback. It is
// idempotent: calling it twice has the same effect as calling it once.
// Bumping the generation counter makes any in-flight Thread-API callback
// for the cancelled cycle fail its correlation check and be silently
// dropped.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.queryPhase = PhaseIdle
	c.done = nil
	c.generation++
}

// correlationKey hashes (generation, rloc) into a single comparable value,
// used to reject late callbacks from a cancelled or superseded cycle without
// a field-by-field struct comparison.
func correlationKey(generation uint64, rloc threadapi.Rloc16) uint64 {
	var buf [10]byte
	buf[0] = byte(generation)
	buf[1] = byte(generation >> 8)
	buf[2] = byte(generation >> 16)
	buf[3] = byte(generation >> 24)
	buf[4] = byte(generation >> 32)
	buf[5] = byte(generation >> 40)
	buf[6] = byte(generation >> 48)
	buf[7] = byte(generation >> 56)
	buf[8] = byte(rloc >> 8)
	buf[9] = byte(rloc)
	return xxh3.Hash(buf[:])
}

// currentGeneration returns the active cycle's generation under lock.
func (c *Collector) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}
