package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/meshcore/tbr-agent/internal/actionqueue"
	"github.com/meshcore/tbr-agent/internal/apierr"
	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/collector"
)

// discoveryPollInterval bounds how often HandleStartDiscovery re-ticks the
// queue while blocking for a full-mesh sweep to finish.
const discoveryPollInterval = 100 * time.Millisecond

// HandleStartDiscovery implements POST /api/devices: it submits a
// getNetworkDiagnosticTask with no destination (discovery mode, per
// ipclass.Resolver.Resolve), drives the queue's tick loop itself so the
// caller doesn't wait on the background scan loop's cadence, and blocks
// until the action reaches a terminal status or the request's context is
// cancelled. A completed sweep renders 200 with the devices collection; a
// sweep stopped by its own timeout renders 408 with whatever partial state
// was gathered.
func HandleStartDiscovery(queue *actionqueue.Queue, devices *collections.Collection, coll *collector.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(struct {
			Data []struct {
				Type       string         `json:"type"`
				Attributes map[string]any `json:"attributes"`
			} `json:"data"`
		}{Data: []struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		}{{Type: "getNetworkDiagnosticTask", Attributes: map[string]any{}}}})
		if err != nil {
			writeServiceError(w, apierr.New(apierr.Internal, "failed to build discovery request"))
			return
		}

		created, err := queue.SubmitJSON(body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		id := created[0].ID

		queue.Tick()
		ctx := r.Context()
		for {
			a, ok := queue.Get(id)
			if !ok || a.Status.Terminal() {
				break
			}
			select {
			case <-ctx.Done():
				writeServiceError(w, apierr.TimeoutErr("client disconnected before discovery finished"))
				return
			case <-time.After(discoveryPollInterval):
			}
			queue.Tick()
		}

		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		filter := parseFieldsFilter(r, "devices")

		a, _ := queue.Get(id)
		status := http.StatusOK
		var pending *int
		if a == nil || a.Status != actionqueue.StatusCompleted {
			status = http.StatusRequestTimeout
			n := coll.PendingCount()
			pending = &n
		}

		var out []byte
		if r.URL.Query().Get("format") == "plain" {
			out, err = devices.ToPlainJSON(pg.Offset, pg.Limit, filter)
		} else {
			out, err = devices.ToJSONAPI(pg.Offset, pg.Limit, filter, pending)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(out)
	}
}
