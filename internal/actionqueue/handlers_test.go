package actionqueue

import (
	"testing"
	"time"

	"github.com/meshcore/tbr-agent/internal/allowlist"
	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/collector"
	"github.com/meshcore/tbr-agent/internal/config"
	"github.com/meshcore/tbr-agent/internal/ipclass"
	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

type fakeJoinerCommissioner struct {
	startCalls int
	stopCalls  int
}

func (f *fakeJoinerCommissioner) StartCommissioner() error { f.startCalls++; return nil }
func (f *fakeJoinerCommissioner) StopCommissioner() error  { f.stopCalls++; return nil }
func (f *fakeJoinerCommissioner) AddJoiner(eui64, pskd string, timeoutS uint32) error {
	return nil
}
func (f *fakeJoinerCommissioner) RemoveJoiner(eui64 string) error { return nil }

func newTestAction(taskType string, attrs map[string]any) *Action {
	return &Action{
		ID:         "action-1",
		Type:       taskType,
		Attributes: attrs,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		TimeoutAt:  time.Now().Add(60 * time.Second),
	}
}

func TestAddThreadDeviceHandler_ValidateRequiresFields(t *testing.T) {
	h := NewAddThreadDeviceHandler(allowlist.New(&fakeJoinerCommissioner{}))

	if err := h.Validate(map[string]any{"pskd": "N9X2V7K"}); err == nil {
		t.Fatal("expected error for missing eui")
	}
	if err := h.Validate(map[string]any{"eui": "aabbccdd00112233"}); err == nil {
		t.Fatal("expected error for missing pskd")
	}
	if err := h.Validate(map[string]any{"eui": "aabbccdd00112233", "pskd": "N9X2V7K"}); err != nil {
		t.Fatalf("expected well-formed attrs to validate, got: %v", err)
	}
}

func TestAddThreadDeviceHandler_ValidateRejectsMalformedEUI(t *testing.T) {
	h := NewAddThreadDeviceHandler(allowlist.New(&fakeJoinerCommissioner{}))
	if err := h.Validate(map[string]any{"eui": "not-hex-at-all!", "pskd": "N9X2V7K"}); err == nil {
		t.Fatal("expected error for non-hex eui")
	}
	if err := h.Validate(map[string]any{"eui": "aabb", "pskd": "N9X2V7K"}); err == nil {
		t.Fatal("expected error for short eui")
	}
}

func TestAddThreadDeviceHandler_ValidateRejectsMalformedPSKd(t *testing.T) {
	h := NewAddThreadDeviceHandler(allowlist.New(&fakeJoinerCommissioner{}))
	tests := []string{
		"short",               // too short
		"lowercase12",         // lowercase not allowed
		"ABCDEFGHJKLMNPRSTUVWXY0123456789A", // > 32 chars
		"N9X2V7I",             // contains excluded I
		"N9X2V7O",             // contains excluded O
		"N9X2V7Q",             // contains excluded Q
		"N9X2V7Z",             // contains excluded Z
		"N9X2-7K",             // non-alphanumeric
	}
	for _, pskd := range tests {
		if err := h.Validate(map[string]any{"eui": "aabbccdd00112233", "pskd": pskd}); err == nil {
			t.Fatalf("expected pskd %q to be rejected", pskd)
		}
	}
}

func TestAddThreadDeviceHandler_ValidateAcceptsWeakPskdAsAdvisoryOnly(t *testing.T) {
	h := NewAddThreadDeviceHandler(allowlist.New(&fakeJoinerCommissioner{}))
	err := h.Validate(map[string]any{"eui": "aabbccdd00112233", "pskd": "111111"})
	if err != nil {
		t.Fatalf("expected a weak pskd to only be logged, not rejected, got: %v", err)
	}
}

func TestAddThreadDeviceHandler_ProcessAddsJoinerAndEvaluateTracksState(t *testing.T) {
	fc := &fakeJoinerCommissioner{}
	list := allowlist.New(fc)
	h := NewAddThreadDeviceHandler(list)

	a := newTestAction("addThreadDeviceTask", map[string]any{
		"eui":  "aabbccdd00112233",
		"pskd": "N9X2V7K",
	})

	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if fc.startCalls != 1 {
		t.Fatalf("expected commissioner to start once, got %d starts", fc.startCalls)
	}

	if result := h.Evaluate(a); result != EvaluateUnchanged {
		t.Fatalf("Evaluate before a joiner event = %v, want EvaluateUnchanged", result)
	}

	list.OnJoinerStart("aabbccdd00112233")
	if result := h.Evaluate(a); result != EvaluateUnchanged {
		t.Fatalf("Evaluate after JoinAttempted = %v, want EvaluateUnchanged", result)
	}

	list.OnJoinerFinalize("aabbccdd00112233")
	if result := h.Evaluate(a); result != EvaluateSuccess {
		t.Fatalf("Evaluate after Joined = %v, want EvaluateSuccess", result)
	}

	h.Clean(a)
	if _, ok := list.StateOf(a.ID); ok {
		t.Fatal("expected Clean to remove the allow-list entry")
	}
}

func TestAddThreadDeviceHandler_EvaluateFailsOnUnknownAction(t *testing.T) {
	h := NewAddThreadDeviceHandler(allowlist.New(&fakeJoinerCommissioner{}))
	a := newTestAction("addThreadDeviceTask", map[string]any{"eui": "aabbccdd00112233", "pskd": "N9X2V7K"})
	if result := h.Evaluate(a); result != EvaluateFailure {
		t.Fatalf("Evaluate on an action never added to the allow-list = %v, want EvaluateFailure", result)
	}
}

func newTestCollectorForHandler(t *testing.T) (*collector.Collector, *threadapi.Fake) {
	t.Helper()
	fake := threadapi.NewFake()
	devices := collections.New(200)
	diagnostics := collections.New(200)
	c := collector.New(
		fake,
		devices,
		diagnostics,
		func() string { return "11111111-1111-1111-1111-111111111111" },
		nil,
		func() collections.ThisDeviceInfo { return collections.ThisDeviceInfo{} },
		func() *tlv.Set { return nil },
	)
	return c, fake
}

func TestGetNetworkDiagnosticHandler_DiscoveryModeStartsFullMeshSweep(t *testing.T) {
	c, fake := newTestCollectorForHandler(t)
	fake.SetRouter(1, threadapi.RouterInfo{Rloc16: threadapi.RlocFromRouterID(1)})
	resolver := ipclass.NewResolver([8]byte{}, [8]byte{}, func(string) ([8]byte, bool) { return [8]byte{}, false }, 0)
	rc := config.NewDefaultRuntimeConfig()
	h := NewGetNetworkDiagnosticHandler(c, resolver, func() *config.RuntimeConfig { return rc })

	a := newTestAction("getNetworkDiagnosticTask", map[string]any{})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if len(fake.DiagnosticGetSends) == 0 {
		t.Fatal("expected discovery mode to send a diagnostic get to the known router")
	}
}

func TestGetNetworkDiagnosticHandler_UnicastModeSendsDiagnosticGet(t *testing.T) {
	c, fake := newTestCollectorForHandler(t)
	resolver := ipclass.NewResolver([8]byte{}, [8]byte{}, func(string) ([8]byte, bool) { return [8]byte{}, false }, 0)
	rc := config.NewDefaultRuntimeConfig()
	h := NewGetNetworkDiagnosticHandler(c, resolver, func() *config.RuntimeConfig { return rc })

	a := newTestAction("getNetworkDiagnosticTask", map[string]any{"destination": "aabbccddeeff0011"})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if len(fake.DiagnosticGetSends) != 1 {
		t.Fatalf("expected 1 diagnostic get send, got %d", len(fake.DiagnosticGetSends))
	}
	if result := h.Evaluate(a); result != EvaluateUnchanged {
		t.Fatalf("Evaluate before a response arrives = %v, want EvaluateUnchanged", result)
	}

	h.Clean(a)
}

func TestGetNetworkDiagnosticHandler_ValidateRejectsNonStringDestination(t *testing.T) {
	c, _ := newTestCollectorForHandler(t)
	resolver := ipclass.NewResolver([8]byte{}, [8]byte{}, func(string) ([8]byte, bool) { return [8]byte{}, false }, 0)
	rc := config.NewDefaultRuntimeConfig()
	h := NewGetNetworkDiagnosticHandler(c, resolver, func() *config.RuntimeConfig { return rc })

	if err := h.Validate(map[string]any{"destination": 42}); err == nil {
		t.Fatal("expected a non-string destination to be rejected")
	}
	if err := h.Validate(map[string]any{}); err != nil {
		t.Fatalf("expected a missing destination to validate (discovery mode), got: %v", err)
	}
}

func TestGetNetworkDiagnosticHandler_ValidateRejectsUnknownTLVName(t *testing.T) {
	c, _ := newTestCollectorForHandler(t)
	resolver := ipclass.NewResolver([8]byte{}, [8]byte{}, func(string) ([8]byte, bool) { return [8]byte{}, false }, 0)
	rc := config.NewDefaultRuntimeConfig()
	h := NewGetNetworkDiagnosticHandler(c, resolver, func() *config.RuntimeConfig { return rc })

	if err := h.Validate(map[string]any{"types": []any{"extAddress", "notARealTlv"}}); err == nil {
		t.Fatal("expected an unknown TLV name to be rejected")
	}
	if err := h.Validate(map[string]any{"types": []any{"extAddress", "rloc16", "ip6AddressList"}}); err != nil {
		t.Fatalf("expected known TLV names to validate, got: %v", err)
	}
}

func TestGetNetworkDiagnosticHandler_ProcessResolvesTLVNamesToTypes(t *testing.T) {
	c, fake := newTestCollectorForHandler(t)
	resolver := ipclass.NewResolver([8]byte{}, [8]byte{}, func(string) ([8]byte, bool) { return [8]byte{}, false }, 0)
	rc := config.NewDefaultRuntimeConfig()
	h := NewGetNetworkDiagnosticHandler(c, resolver, func() *config.RuntimeConfig { return rc })

	a := newTestAction("getNetworkDiagnosticTask", map[string]any{
		"destination": "aabbccddeeff0011",
		"types":       []any{"extAddress", "rloc16", "ip6AddressList"},
	})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if len(fake.DiagnosticGetSends) != 1 {
		t.Fatalf("expected 1 diagnostic get send, got %d", len(fake.DiagnosticGetSends))
	}
	got := fake.DiagnosticGetSends[0].Types
	want := []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16, tlv.TypeIp6AddressList}
	if len(got) != len(want) {
		t.Fatalf("Types = %v, want %v", got, want)
	}
	for i, tp := range want {
		if got[i] != tp {
			t.Fatalf("Types[%d] = %v, want %v", i, got[i], tp)
		}
	}
}

func TestResetNetworkDiagCounterHandler_ProcessSendsResetAndAlwaysSucceeds(t *testing.T) {
	fake := threadapi.NewFake()
	h := NewResetNetworkDiagCounterHandler(fake)

	a := newTestAction("resetNetworkDiagCounterTask", map[string]any{})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if len(fake.ResetSends) != 1 {
		t.Fatalf("expected 1 diagnostic reset send, got %d", len(fake.ResetSends))
	}
	if result := h.Evaluate(a); result != EvaluateSuccess {
		t.Fatalf("Evaluate = %v, want EvaluateSuccess (fire-and-forget)", result)
	}
}

func TestResetNetworkDiagCounterHandler_ResolvesCounterTypeNames(t *testing.T) {
	fake := threadapi.NewFake()
	h := NewResetNetworkDiagCounterHandler(fake)

	if err := h.Validate(map[string]any{"types": []any{"macCounter", "mleCounter"}}); err != nil {
		t.Fatalf("expected known counter names to validate, got: %v", err)
	}
	if err := h.Validate(map[string]any{"types": []any{"macCounters"}}); err == nil {
		t.Fatal("expected the plural TLV-name-set spelling to be rejected for this task's own enum")
	}

	a := newTestAction("resetNetworkDiagCounterTask", map[string]any{"types": []any{"macCounter"}})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}
	if len(fake.ResetSends) != 1 || len(fake.ResetSends[0]) != 1 || fake.ResetSends[0][0] != tlv.TypeMacCounters {
		t.Fatalf("expected a reset send for just TypeMacCounters, got %v", fake.ResetSends)
	}
}

func TestGetEnergyScanHandler_ValidateRequiresChannelMaskAndCount(t *testing.T) {
	h := NewGetEnergyScanHandler(threadapi.NewFake())

	if err := h.Validate(map[string]any{"count": float64(5)}); err == nil {
		t.Fatal("expected error for missing channelMask")
	}
	if err := h.Validate(map[string]any{"channelMask": []any{float64(11), float64(15)}}); err == nil {
		t.Fatal("expected error for missing count")
	}
	if err := h.Validate(map[string]any{"channelMask": []any{float64(11), float64(15)}, "count": float64(5)}); err != nil {
		t.Fatalf("expected well-formed attrs to validate, got: %v", err)
	}
}

func TestGetEnergyScanHandler_ValidateRejectsOutOfRangeChannel(t *testing.T) {
	h := NewGetEnergyScanHandler(threadapi.NewFake())
	if err := h.Validate(map[string]any{"channelMask": []any{float64(10)}, "count": float64(1)}); err == nil {
		t.Fatal("expected channel 10 (below 11) to be rejected")
	}
	if err := h.Validate(map[string]any{"channelMask": []any{float64(27)}, "count": float64(1)}); err == nil {
		t.Fatal("expected channel 27 (above 26) to be rejected")
	}
}

func TestGetEnergyScanHandler_EvaluateSucceedsOnceRequestedRowsArrive(t *testing.T) {
	fake := threadapi.NewFake()
	h := NewGetEnergyScanHandler(fake)

	a := newTestAction("getEnergyScanTask", map[string]any{
		"channelMask": []any{float64(11), float64(15)},
		"count":       float64(2),
	})
	if result := h.Process(a); result != ProcessPending {
		t.Fatalf("Process = %v, want ProcessPending", result)
	}

	if result := h.Evaluate(a); result != EvaluateUnchanged {
		t.Fatalf("Evaluate before any rows arrive = %v, want EvaluateUnchanged", result)
	}

	fake.DeliverEnergyScanRow(11, -60)
	if result := h.Evaluate(a); result != EvaluateUnchanged {
		t.Fatalf("Evaluate after 1 of 2 requested rows = %v, want EvaluateUnchanged", result)
	}

	fake.DeliverEnergyScanRow(15, -70)
	if result := h.Evaluate(a); result != EvaluateSuccess {
		t.Fatalf("Evaluate after all requested rows arrived = %v, want EvaluateSuccess", result)
	}
}
