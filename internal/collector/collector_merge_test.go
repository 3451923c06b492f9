package collector

import (
	"net"
	"testing"
	"time"

	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// TestCollector_StaleCallbackAfterCancelIsDropped covers the generation
// guard: a Diagnostic Get reply that arrives after Cancel (and thus a bumped
// generation) must not be merged into diag_set for a later cycle.
func TestCollector_StaleCallbackAfterCancelIsDropped(t *testing.T) {
	fake := threadapi.NewFake()
	c, _, diagnostics := newTestCollector(t, fake)

	if err := c.Configure(10*time.Second, 30*time.Second, 2, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	dest := net.ParseIP("fd00::1")
	types := []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16}
	if err := c.HandleAction(dest, types, RelationshipDiagnostics); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	// Cancel bumps the generation and returns to Idle before any response
	// arrives, simulating an action timeout or client-driven stop.
	c.Cancel()

	extAddr := [8]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	resp := buildTLVSet(extAddr, 0x1c00, nil)
	fake.DeliverDiagnosticGet(dest, resp, nil)

	if diagnostics.Size() != 0 {
		t.Fatalf("expected the stale response to not start a new cycle, got %d diagnostics", diagnostics.Size())
	}
}

// TestCollector_UpdateDiagDropsResponseFromSupersededCycle covers the same
// guard one level down: a direct call with a genKey already stamped for a
// later generation must be rejected by updateDiag's correlation check.
func TestCollector_UpdateDiagDropsResponseFromSupersededCycle(t *testing.T) {
	fake := threadapi.NewFake()
	c, _, _ := newTestCollector(t, fake)

	rloc := threadapi.Rloc16(0x1c00)
	c.diagSet.Store(rloc, &diagEntry{tlvs: tlv.NewSet(), genKey: correlationKey(c.currentGeneration()+1, rloc)})

	incoming := tlv.NewSet()
	incoming.Put(tlv.Value{Type: tlv.TypeRloc16, Raw: []byte{0x1c, 0x00}})
	incoming.Put(tlv.Value{Type: tlv.TypeExtAddress, Raw: []byte{1, 2, 3, 4, 5, 6, 7, 8}})
	c.updateDiag(incoming)

	entry, ok := c.diagSet.Load(rloc)
	if !ok {
		t.Fatal("expected the pre-seeded entry to still be present")
	}
	if entry.tlvs.Len() != 0 {
		t.Fatalf("expected the superseded-cycle response to be dropped, got %d TLVs merged", entry.tlvs.Len())
	}
}

// TestCollector_DiscoverySweepEnumeratesRoutersAndMergesDevices covers the
// full-mesh discovery path: StartDiscovery sends one Diagnostic Get per
// known router, and a reply for each is merged into the devices collection
// once the query phase completes with no Mesh-Diag sub-queries configured.
func TestCollector_DiscoverySweepEnumeratesRoutersAndMergesDevices(t *testing.T) {
	fake := threadapi.NewFake()
	fake.SetRouter(1, threadapi.RouterInfo{Rloc16: 0x1c00, ExtAddress: [8]byte{1, 1, 1, 1, 1, 1, 1, 1}})
	fake.SetRouter(2, threadapi.RouterInfo{Rloc16: 0x2400, ExtAddress: [8]byte{2, 2, 2, 2, 2, 2, 2, 2}})

	c, devices, _ := newTestCollector(t, fake)
	if err := c.Configure(10*time.Second, 30*time.Second, 2, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.StartDiscovery(RelationshipDevices); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if len(fake.DiagnosticGetSends) != 2 {
		t.Fatalf("expected 1 diagnostic get per router, got %d", len(fake.DiagnosticGetSends))
	}

	// No Mesh-Diag sub-queries configured, so the query phase resolves
	// immediately and finalisation only waits on diag_set filling in.
	c.queryTLVTypes = nil

	rlocPrefix := fake.RlocPrefix()
	for _, s := range fake.DiagnosticGetSends {
		rloc := threadapi.Rloc16(uint16(s.Dest[14])<<8 | uint16(s.Dest[15]))
		var extAddr [8]byte
		switch rloc {
		case 0x1c00:
			extAddr = [8]byte{1, 1, 1, 1, 1, 1, 1, 1}
		case 0x2400:
			extAddr = [8]byte{2, 2, 2, 2, 2, 2, 2, 2}
		}
		resp := buildTLVSet(extAddr, uint16(rloc), nil)
		fake.DeliverDiagnosticGet(rlocToIP(rlocPrefix, rloc), resp, nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && devices.Size() < 2 {
		c.Poll()
		time.Sleep(5 * time.Millisecond)
	}

	if devices.Size() != 2 {
		t.Fatalf("expected 2 devices merged from the discovery sweep, got %d", devices.Size())
	}
}
