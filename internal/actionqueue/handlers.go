package actionqueue

import (
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/meshcore/tbr-agent/internal/allowlist"
	"github.com/meshcore/tbr-agent/internal/collector"
	"github.com/meshcore/tbr-agent/internal/config"
	"github.com/meshcore/tbr-agent/internal/ipclass"
	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

// collectorState carries what a getNetworkDiagnosticTask action needs
// between process and evaluate, stashed in Action.handlerState
// since the Queue has no per-type storage of its own.
type collectorState struct {
	done    bool
	success bool
	rel     collector.Relationship
}

// NewAddThreadDeviceHandler builds the "addThreadDeviceTask" handler: it
// validates eui/psk-d, defers to the allow-list for the stop-earlier-then-add
// sequencing, and polls joiner state to completion.
func NewAddThreadDeviceHandler(list *allowlist.List) *Handler {
	return &Handler{
		Name: "addThreadDeviceTask",
		Validate: func(attrs map[string]any) error {
			eui, _ := attrs["eui"].(string)
			pskd, _ := attrs["pskd"].(string)
			if eui == "" {
				return fmt.Errorf("eui is required")
			}
			if !validEUI64(eui) {
				return fmt.Errorf("eui: must be 16 hex characters")
			}
			if pskd == "" {
				return fmt.Errorf("pskd is required")
			}
			if !validPSKd(pskd) {
				return fmt.Errorf("pskd: must be 6-32 uppercase alphanumeric characters excluding I, O, Q, Z")
			}
			if config.IsWeakJoinerCredential(pskd) {
				log.Printf("actionqueue: addThreadDeviceTask submitted with a weak pskd")
			}
			return nil
		},
		Process: func(a *Action) ProcessResult {
			eui := a.Attributes["eui"].(string)
			pskd := a.Attributes["pskd"].(string)
			timeoutS := uint32(time.Until(a.TimeoutAt).Seconds())
			stoppedID, err := list.StopEarlierAndAdd(eui, a.ID, pskd, timeoutS)
			if err != nil {
				logHandlerError(a.Type, err)
				return ProcessFailure
			}
			_ = stoppedID // the stopped action's own Tick will observe Terminal() via StateOf next cycle
			return ProcessPending
		},
		Evaluate: func(a *Action) EvaluateResult {
			state, ok := list.StateOf(a.ID)
			if !ok {
				return EvaluateFailure
			}
			switch state {
			case allowlist.StateJoined:
				return EvaluateSuccess
			case allowlist.StateJoinFailed, allowlist.StateExpired:
				return EvaluateFailure
			default:
				return EvaluateUnchanged
			}
		},
		Clean: func(a *Action) {
			list.Remove(a.ID)
		},
	}
}

// validEUI64 reports whether s is 16 hex characters.
func validEUI64(s string) bool {
	if len(s) != 16 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// validPSKd reports whether s is a well-formed commissioning PSK-d: 6-32
// uppercase alphanumeric characters excluding the visually ambiguous I, O,
// Q, Z.
func validPSKd(s string) bool {
	if len(s) < 6 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			if r == 'I' || r == 'O' || r == 'Q' || r == 'Z' {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// NewGetNetworkDiagnosticHandler builds the "getNetworkDiagnosticTask"
// handler: it resolves the requested destination, configures and drives
// the Collector, and waits for its DoneFunc.
func NewGetNetworkDiagnosticHandler(c *collector.Collector, resolver *ipclass.Resolver, cfg func() *config.RuntimeConfig) *Handler {
	return &Handler{
		Name: "getNetworkDiagnosticTask",
		Validate: func(attrs map[string]any) error {
			if _, ok := attrs["destination"]; ok {
				if _, ok := attrs["destination"].(string); !ok {
					return fmt.Errorf("destination must be a string")
				}
			}
			if raw, ok := attrs["types"].([]any); ok {
				if _, err := resolveTLVNames(raw); err != nil {
					return err
				}
			}
			return nil
		},
		Process: func(a *Action) ProcessResult {
			dest, _ := a.Attributes["destination"].(string)
			types := requestedTLVTypes(a.Attributes)

			rc := cfg()
			st := &collectorState{}
			a.handlerState = st
			err := c.Configure(rc.CollectorTimeout.Std(), rc.CollectorMaxAge.Std(), rc.CollectorMaxRetries,
				func(rel collector.Relationship, success bool) {
					st.done = true
					st.success = success
					st.rel = rel
				})
			if err != nil {
				logHandlerError(a.Type, err)
				return ProcessRetry
			}

			ip, mode, err := resolver.Resolve(dest)
			if err != nil {
				c.Cancel()
				logHandlerError(a.Type, err)
				return ProcessFailure
			}
			if mode == ipclass.ModeDiscovery {
				if err := c.StartDiscovery(collector.RelationshipDevices); err != nil {
					c.Cancel()
					logHandlerError(a.Type, err)
					return ProcessFailure
				}
				return ProcessPending
			}
			if err := c.HandleAction(ip, types, collector.RelationshipDiagnostics); err != nil {
				logHandlerError(a.Type, err)
				return ProcessFailure
			}
			return ProcessPending
		},
		Evaluate: func(a *Action) EvaluateResult {
			c.Poll()
			st, _ := a.handlerState.(*collectorState)
			if st == nil || !st.done {
				return EvaluateUnchanged
			}
			a.Relationship = &Relationship{Kind: string(st.rel.Kind), ID: st.rel.ID}
			if st.success {
				return EvaluateSuccess
			}
			return EvaluateFailure
		},
		Clean: func(a *Action) {
			c.Cancel()
		},
	}
}

// resolveTLVNames resolves a JSON array of TLV name strings (the case-
// sensitive name set documented alongside the Action API) to their tlv.Type
// values, rejecting any entry that isn't a string or isn't a known name.
func resolveTLVNames(raw []any) ([]tlv.Type, error) {
	out := make([]tlv.Type, 0, len(raw))
	for _, v := range raw {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("types: each entry must be a string")
		}
		t, ok := tlv.TypeByName(name)
		if !ok {
			return nil, fmt.Errorf("types: unknown TLV name %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// requestedTLVTypes reads the "types" attribute (a list of TLV name
// strings), falling back to a small default set when absent or malformed
// (Validate already rejects malformed submissions, so the fallback here
// only guards process-time defensively).
func requestedTLVTypes(attrs map[string]any) []tlv.Type {
	raw, ok := attrs["types"].([]any)
	if !ok {
		return []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16, tlv.TypeIp6AddressList}
	}
	types, err := resolveTLVNames(raw)
	if err != nil {
		return []tlv.Type{tlv.TypeExtAddress, tlv.TypeRloc16, tlv.TypeIp6AddressList}
	}
	return types
}

// resetCounterTLVNames maps resetNetworkDiagCounterTask's own small "types"
// enum (distinct from the TLV name set: it names which wire counters to
// reset, not which TLV to fetch) to the corresponding counter TLV.
var resetCounterTLVNames = map[string]tlv.Type{
	"macCounter": tlv.TypeMacCounters,
	"mleCounter": tlv.TypeMleCounters,
}

// resolveResetCounterTypes resolves the reset task's "types" entries,
// defaulting to both counter TLVs when omitted.
func resolveResetCounterTypes(raw []any) ([]tlv.Type, error) {
	if len(raw) == 0 {
		return []tlv.Type{tlv.TypeMacCounters, tlv.TypeMleCounters}, nil
	}
	out := make([]tlv.Type, 0, len(raw))
	for _, v := range raw {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("types: each entry must be a string")
		}
		t, ok := resetCounterTLVNames[name]
		if !ok {
			return nil, fmt.Errorf("types: unknown reset-counter type %q (expected macCounter or mleCounter)", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// resetCounterState tracks the fire-and-forget multicast send's timing.
type resetCounterState struct {
	sentAt time.Time
}

// NewResetNetworkDiagCounterHandler builds the "resetNetworkDiagCounterTask"
// handler: a multicast send to the realm-local all-thread-nodes address with
// no streamed response, so it completes as soon as the send succeeds.
func NewResetNetworkDiagCounterHandler(adapter threadapi.Adapter) *Handler {
	return &Handler{
		Name: "resetNetworkDiagCounterTask",
		Validate: func(attrs map[string]any) error {
			if raw, ok := attrs["types"].([]any); ok {
				if _, err := resolveResetCounterTypes(raw); err != nil {
					return err
				}
			}
			return nil
		},
		Process: func(a *Action) ProcessResult {
			raw, _ := a.Attributes["types"].([]any)
			types, err := resolveResetCounterTypes(raw)
			if err != nil {
				types = []tlv.Type{tlv.TypeMacCounters, tlv.TypeMleCounters}
			}
			if err := adapter.SendDiagnosticReset(types); err != nil {
				logHandlerError(a.Type, err)
				return ProcessFailure
			}
			a.handlerState = &resetCounterState{sentAt: time.Now()}
			return ProcessPending
		},
		Evaluate: func(a *Action) EvaluateResult {
			return EvaluateSuccess
		},
		Clean: func(a *Action) {},
	}
}

// energyScanState accumulates measured rows until the requested count is
// reached.
type energyScanState struct {
	measured  int
	requested uint16
}

// NewGetEnergyScanHandler builds the "getEnergyScanTask" handler. Only one
// scan may be active on the shared threadapi.Adapter singleton at a time;
// a concurrent attempt is rejected at Process with a retry so the caller's
// next Tick can pick it up once the adapter frees up.
func NewGetEnergyScanHandler(adapter threadapi.Adapter) *Handler {
	return &Handler{
		Name: "getEnergyScanTask",
		Validate: func(attrs map[string]any) error {
			if raw, ok := attrs["channelMask"].([]any); ok {
				if _, err := channelMaskFrom(raw); err != nil {
					return err
				}
			} else {
				return fmt.Errorf("channelMask is required")
			}
			if _, ok := attrs["count"].(float64); !ok {
				return fmt.Errorf("count is required")
			}
			return nil
		},
		Process: func(a *Action) ProcessResult {
			raw, _ := a.Attributes["channelMask"].([]any)
			channelMask, _ := channelMaskFrom(raw)
			count := uint16(a.Attributes["count"].(float64))
			period := uint16(320)
			scanDuration := uint16(105)
			if v, ok := a.Attributes["period"].(float64); ok {
				period = uint16(v)
			}
			if v, ok := a.Attributes["scanDuration"].(float64); ok {
				scanDuration = uint16(v)
			}

			st := &energyScanState{requested: count}
			adapter.SetEnergyScanCallback(func(channel uint8, rssi int8) {
				st.measured++
			})
			if err := adapter.StartEnergyScan(channelMask, count, period, scanDuration); err != nil {
				return ProcessRetry
			}
			a.handlerState = st
			return ProcessPending
		},
		Evaluate: func(a *Action) EvaluateResult {
			st, _ := a.handlerState.(*energyScanState)
			if st == nil {
				return EvaluateFailure
			}
			if st.measured >= int(st.requested) {
				return EvaluateSuccess
			}
			return EvaluateUnchanged
		},
		Clean: func(a *Action) {},
	}
}

// channelMaskFrom folds a channelMask array of channel numbers (11..26)
// into the adapter's single bitmask representation (bit N set ⇒ channel N
// requested).
func channelMaskFrom(channels []any) (uint32, error) {
	var mask uint32
	for _, v := range channels {
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("channelMask: each entry must be a number")
		}
		ch := int(f)
		if ch < 11 || ch > 26 {
			return 0, fmt.Errorf("channelMask: channel %d out of range [11,26]", ch)
		}
		mask |= 1 << uint(ch)
	}
	return mask, nil
}
