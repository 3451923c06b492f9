package collector

import (
	"net"
	"testing"
	"time"

	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

func newTestCollector(t *testing.T, fake *threadapi.Fake) (*Collector, *collections.Collection, *collections.Collection) {
	t.Helper()
	devices := collections.New(200)
	diagnostics := collections.New(200)
	c := New(
		fake,
		devices,
		diagnostics,
		func() string { return "11111111-1111-1111-1111-111111111111" },
		nil,
		func() collections.ThisDeviceInfo { return collections.ThisDeviceInfo{} },
		func() *tlv.Set { return nil },
	)
	return c, devices, diagnostics
}

func buildTLVSet(extAddr [8]byte, shortAddr uint16, addrs []net.IP) *tlv.Set {
	s := tlv.NewSet()
	s.Put(tlv.Value{Type: tlv.TypeExtAddress, Raw: extAddr[:]})
	s.Put(tlv.Value{Type: tlv.TypeRloc16, Raw: []byte{byte(shortAddr >> 8), byte(shortAddr)}})
	var raw []byte
	for _, a := range addrs {
		raw = append(raw, a.To16()...)
	}
	s.Put(tlv.Value{Type: tlv.TypeIp6AddressList, Raw: raw})
	return s
}

// TestCollector_UnicastDiagnostic covers a unicast getNetworkDiagnosticTask
// that gets a single full response: it completes with a diagnostics item
// carrying the response TLVs.
func TestCollector_UnicastDiagnostic(t *testing.T) {
	fake := threadapi.NewFake()
	c, _, diagnostics := newTestCollector(t, fake)

	if err := c.Configure(10*time.Second, 30*time.Second, 2, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	dest := net.ParseIP("fd00::1")
	types := []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16, tlv.TypeIp6AddressList}
	if err := c.HandleAction(dest, types, RelationshipDiagnostics); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if len(fake.DiagnosticGetSends) != 1 {
		t.Fatalf("expected 1 diagnostic get send, got %d", len(fake.DiagnosticGetSends))
	}

	extAddr := [8]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	resp := buildTLVSet(extAddr, 0x0800, []net.IP{net.ParseIP("fd00::1"), net.ParseIP("fe80::2"), net.ParseIP("ff02::1")})
	fake.DeliverDiagnosticGet(dest, resp, nil)

	if diagnostics.Size() != 1 {
		t.Fatalf("expected 1 diagnostic item, got %d", diagnostics.Size())
	}
}

// TestCollector_RetryThenTimeout covers the case where no response ever
// arrives: the collector retries up to max_retries and then times out
// without creating a diagnostic item.
func TestCollector_RetryThenTimeout(t *testing.T) {
	fake := threadapi.NewFake()
	c, _, diagnostics := newTestCollector(t, fake)

	doneCalled := false
	var doneSuccess bool
	done := func(rel Relationship, success bool) {
		doneCalled = true
		doneSuccess = success
	}

	if err := c.Configure(10*time.Millisecond, 30*time.Second, 2, done); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	dest := net.ParseIP("fd00::1")
	types := []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16}
	if err := c.HandleAction(dest, types, RelationshipDiagnostics); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !doneCalled {
		// Configure clamps the timeout up to 10s and a retry waits
		// RetryDelayFTD, so backdate the last attempt to let each Poll retry.
		c.mu.Lock()
		c.lastAttemptAt = time.Now().Add(-2 * RetryDelayFTD)
		c.mu.Unlock()
		c.Poll()
		time.Sleep(5 * time.Millisecond)
	}

	if got := len(fake.DiagnosticGetSends); got != 3 {
		t.Fatalf("expected the initial send plus 2 retries, got %d sends", got)
	}
	if !doneCalled {
		t.Fatal("expected done callback to fire on timeout")
	}
	if doneSuccess {
		t.Fatal("expected success=false on timeout")
	}
	if diagnostics.Size() != 0 {
		t.Fatalf("expected no diagnostic item on timeout, got %d", diagnostics.Size())
	}
}

// TestCollector_CancelIsIdempotent covers idempotence property.
func TestCollector_CancelIsIdempotent(t *testing.T) {
	fake := threadapi.NewFake()
	c, _, _ := newTestCollector(t, fake)
	c.Cancel()
	c.Cancel()
	if c.phase != PhaseIdle {
		t.Fatalf("expected Idle after double cancel, got %v", c.phase)
	}
}
