package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/meshcore/tbr-agent/internal/buildinfo"
	"github.com/meshcore/tbr-agent/internal/config"
)

// SystemInfo is the GET /api/system response: build identity, start time
// and uptime, plus a non-secret snapshot of the current RuntimeConfig.
type SystemInfo struct {
	Version       string                `json:"version"`
	GitCommit     string                `json:"git_commit"`
	BuildTime     string                `json:"build_time"`
	StartedAt     time.Time             `json:"started_at"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	RuntimeConfig *config.RuntimeConfig `json:"runtime_config"`
}

// HandleSystemInfo returns a handler for GET /api/system.
func HandleSystemInfo(startedAt time.Time, runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SystemInfo{
			Version:       buildinfo.Version,
			GitCommit:     buildinfo.GitCommit,
			BuildTime:     buildinfo.BuildTime,
			StartedAt:     startedAt,
			UptimeSeconds: time.Since(startedAt).Seconds(),
			RuntimeConfig: runtimeCfg.Load(),
		})
	}
}

// HandlePatchSystemConfig returns a handler for PATCH /api/system/config,
// applying the allowlisted-field, deep-copy, validate, atomic-swap pattern
// in config.PatchRuntimeConfig.
func HandlePatchSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readRawBodyOrWriteInvalid(w, r)
		if !ok {
			return
		}
		result, err := config.PatchRuntimeConfig(runtimeCfg, body)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
