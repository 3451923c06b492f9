package threadapi

import (
	"fmt"
	"net"
	"sync"

	"github.com/meshcore/tbr-agent/internal/tlv"
)

// Fake is an in-memory Adapter double for tests: it records every send and
// lets the test script deliver responses synchronously by calling
// DeliverDiagnosticGet/DeliverChildTable/etc. It is not a production
// implementation of the Thread API — the real one talks to the NCP/RCP,
// which is out of scope for this agent.
type Fake struct {
	mu sync.Mutex

	routers     map[uint8]RouterInfo
	meshPrefix  [8]byte
	rlocPrefix  [8]byte
	ownRloc     Rloc16
	ownExt      [8]byte
	srpHosts    []SrpHost

	DiagnosticGetSends []DiagnosticGetSend
	ResetSends         [][]tlv.Type
	ChildTableQueries  []Rloc16
	ChildIp6Queries    []Rloc16
	NeighborQueries    []Rloc16

	// SendDiagnosticGetErr, if set, is returned synchronously by every
	// SendDiagnosticGet call instead of recording it.
	SendDiagnosticGetErr error

	diagCb     DiagnosticGetCallback
	childCb    ChildTableCallback
	childIp6Cb ChildIp6Callback
	neighborCb RouterNeighborCallback
	joinerCb   JoinerEventCallback
	energyCb   EnergyScanCallback

	CommissionerActive bool
	Joiners            map[string]struct {
		PSKd     string
		TimeoutS uint32
	}
	EnergyScanActive bool
}

// DiagnosticGetSend records one SendDiagnosticGet invocation.
type DiagnosticGetSend struct {
	Dest  net.IP
	Types []tlv.Type
}

// NewFake returns a Fake with no routers and a zero mesh-local prefix.
func NewFake() *Fake {
	return &Fake{routers: make(map[uint8]RouterInfo)}
}

// SetOwnNode configures the facts the collector reads about the local node.
func (f *Fake) SetOwnNode(rloc Rloc16, ext [8]byte, meshPrefix, rlocPrefix [8]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownRloc = rloc
	f.ownExt = ext
	f.meshPrefix = meshPrefix
	f.rlocPrefix = rlocPrefix
}

// SetRouter registers (or replaces) a router table entry.
func (f *Fake) SetRouter(id uint8, info RouterInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routers[id] = info
}

// RemoveRouter deletes a router table entry.
func (f *Fake) RemoveRouter(id uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.routers, id)
}

// SetSrpHosts replaces the SRP host record set GetNextHost iterates.
func (f *Fake) SetSrpHosts(hosts []SrpHost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.srpHosts = hosts
}

func (f *Fake) SendDiagnosticGet(dest net.IP, types []tlv.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendDiagnosticGetErr != nil {
		return f.SendDiagnosticGetErr
	}
	f.DiagnosticGetSends = append(f.DiagnosticGetSends, DiagnosticGetSend{Dest: dest, Types: append([]tlv.Type(nil), types...)})
	return nil
}

func (f *Fake) SendDiagnosticReset(types []tlv.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResetSends = append(f.ResetSends, append([]tlv.Type(nil), types...))
	return nil
}

func (f *Fake) QueryChildTable(routerRloc Rloc16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChildTableQueries = append(f.ChildTableQueries, routerRloc)
	return nil
}

func (f *Fake) QueryChildIp6Addrs(routerRloc Rloc16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChildIp6Queries = append(f.ChildIp6Queries, routerRloc)
	return nil
}

func (f *Fake) QueryRouterNeighbors(routerRloc Rloc16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NeighborQueries = append(f.NeighborQueries, routerRloc)
	return nil
}

func (f *Fake) GetRouterInfo(routerID uint8) (RouterInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.routers[routerID]
	return info, ok
}

func (f *Fake) MeshLocalPrefix() [8]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meshPrefix
}

func (f *Fake) RlocPrefix() [8]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rlocPrefix
}

func (f *Fake) Rloc16() Rloc16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownRloc
}

func (f *Fake) ExtAddress() [8]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownExt
}

func (f *Fake) GetNextHost(cursor string) (SrpHost, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cursor == "" {
		if len(f.srpHosts) == 0 {
			return SrpHost{}, false
		}
		return f.srpHosts[0], true
	}
	for i, h := range f.srpHosts {
		if h.Hostname == cursor && i+1 < len(f.srpHosts) {
			return f.srpHosts[i+1], true
		}
	}
	return SrpHost{}, false
}

func (f *Fake) SetDiagnosticGetCallback(cb DiagnosticGetCallback)   { f.diagCb = cb }
func (f *Fake) SetChildTableCallback(cb ChildTableCallback)         { f.childCb = cb }
func (f *Fake) SetChildIp6Callback(cb ChildIp6Callback)             { f.childIp6Cb = cb }
func (f *Fake) SetRouterNeighborCallback(cb RouterNeighborCallback) { f.neighborCb = cb }
func (f *Fake) SetJoinerEventCallback(cb JoinerEventCallback)       { f.joinerCb = cb }
func (f *Fake) SetEnergyScanCallback(cb EnergyScanCallback)         { f.energyCb = cb }

func (f *Fake) StartCommissioner() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommissionerActive = true
	return nil
}

func (f *Fake) StopCommissioner() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommissionerActive = false
	return nil
}

func (f *Fake) AddJoiner(eui64, pskd string, timeoutS uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Joiners == nil {
		f.Joiners = map[string]struct {
			PSKd     string
			TimeoutS uint32
		}{}
	}
	f.Joiners[eui64] = struct {
		PSKd     string
		TimeoutS uint32
	}{PSKd: pskd, TimeoutS: timeoutS}
	return nil
}

func (f *Fake) RemoveJoiner(eui64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Joiners, eui64)
	return nil
}

func (f *Fake) StartEnergyScan(channelMask uint32, count uint16, period, scanDuration uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnergyScanActive {
		return fmt.Errorf("threadapi.Fake: energy scan already active")
	}
	f.EnergyScanActive = true
	return nil
}

// DeliverJoinerEvent synchronously invokes the registered
// JoinerEventCallback, simulating a commissioner lifecycle event.
func (f *Fake) DeliverJoinerEvent(eui64 string, kind JoinerEventKind) {
	if f.joinerCb != nil {
		f.joinerCb(eui64, kind)
	}
}

// DeliverEnergyScanRow synchronously invokes the registered
// EnergyScanCallback.
func (f *Fake) DeliverEnergyScanRow(channel uint8, rssi int8) {
	if f.energyCb != nil {
		f.energyCb(channel, rssi)
	}
}

// FinishEnergyScan clears the active-scan flag, simulating scan completion.
func (f *Fake) FinishEnergyScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnergyScanActive = false
}

// DeliverDiagnosticGet synchronously invokes the registered
// DiagnosticGetCallback, simulating a response arriving on the loop.
func (f *Fake) DeliverDiagnosticGet(dest net.IP, tlvs *tlv.Set, err error) {
	if f.diagCb == nil {
		panic(fmt.Sprintf("threadapi.Fake: no DiagnosticGetCallback registered, dropped response from %s", dest))
	}
	f.diagCb(dest, tlvs, err)
}

// DeliverChildTable synchronously invokes the registered ChildTableCallback.
func (f *Fake) DeliverChildTable(routerRloc Rloc16, entries []ChildTableEntry, err error) {
	if f.childCb != nil {
		f.childCb(routerRloc, entries, err)
	}
}

// DeliverChildIp6 synchronously invokes the registered ChildIp6Callback.
func (f *Fake) DeliverChildIp6(routerRloc Rloc16, children map[Rloc16][]net.IP, err error) {
	if f.childIp6Cb != nil {
		f.childIp6Cb(routerRloc, children, err)
	}
}

// DeliverRouterNeighbors synchronously invokes the registered
// RouterNeighborCallback.
func (f *Fake) DeliverRouterNeighbors(routerRloc Rloc16, entries []RouterNeighborEntry, err error) {
	if f.neighborCb != nil {
		f.neighborCb(routerRloc, entries, err)
	}
}

var _ Adapter = (*Fake)(nil)
