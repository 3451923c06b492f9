package config

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// PatchRuntimeConfig applies a partial update to the runtime config: decode
// the request body as a field->value map, reject any field not in the
// allowlist, apply onto a deep copy of the current config, validate, then
// atomically swap. Concurrent readers of cfg never observe a torn config.
func PatchRuntimeConfig(cfg *atomic.Pointer[RuntimeConfig], body []byte) (*RuntimeConfig, error) {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	for field, value := range patch {
		if !RuntimeConfigAllowedField(field) {
			return nil, fmt.Errorf("field %q is not patchable", field)
		}
		if string(value) == "null" {
			return nil, fmt.Errorf("field %q must not be null", field)
		}
	}

	current := *cfg.Load()
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("internal: failed to snapshot runtime config: %w", err)
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(merged, &asMap); err != nil {
		return nil, fmt.Errorf("internal: failed to snapshot runtime config: %w", err)
	}
	for field, value := range patch {
		asMap[field] = value
	}
	remerged, err := json.Marshal(asMap)
	if err != nil {
		return nil, fmt.Errorf("internal: failed to merge runtime config patch: %w", err)
	}

	next := &RuntimeConfig{}
	if err := json.Unmarshal(remerged, next); err != nil {
		return nil, fmt.Errorf("invalid field value: %w", err)
	}
	if err := validateRuntimeConfig(next); err != nil {
		return nil, err
	}

	cfg.Store(next)
	return next, nil
}

func validateRuntimeConfig(cfg *RuntimeConfig) error {
	if cfg.CollectorMaxRetries < 0 {
		return fmt.Errorf("collector_max_retries must be >= 0")
	}
	if cfg.TaskQueueMax <= 0 {
		return fmt.Errorf("task_queue_max must be > 0")
	}
	if cfg.MaxDevicesCollectionItems <= 0 || cfg.MaxDiagCollectionItems <= 0 {
		return fmt.Errorf("collection capacities must be > 0")
	}
	return nil
}
