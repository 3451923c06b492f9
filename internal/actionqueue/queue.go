// Package actionqueue implements the FIFO action queue and its per-type
// handler table: a keyed collection of entries each with a deadline, swept
// on a fixed tick and transitioning through a small state set, where each
// action type supplies its own {validate,process,evaluate,clean} handler.
package actionqueue

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcore/tbr-agent/internal/apierr"
)

// Status is an Action's lifecycle position: pending -> active -> terminal,
// and it never reverts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Relationship stamps a completed Action with the collection item its
// collector cycle produced on finalisation.
type Relationship struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Action is one queued unit of work.
type Action struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Attributes      map[string]any `json:"attributes"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	TimeoutAt       time.Time      `json:"timeout_at"`
	LastEvaluatedAt time.Time      `json:"last_evaluated_at"`
	Relationship    *Relationship  `json:"relationship,omitempty"`

	markedForDelete bool
	// handlerState is private per-type bookkeeping a handler's
	// process/evaluate/clean need across ticks (e.g. the collector
	// DoneFunc's result, an energy-scan row accumulator).
	handlerState any
}

// ProcessResult is returned by a handler's process and drives the tick
// transition: pending/success -> active, failure -> failed, retry/no-change
// -> unchanged, stopped -> stopped.
type ProcessResult int

const (
	ProcessPending ProcessResult = iota
	ProcessFailure
	ProcessRetry
	ProcessStopped
)

// EvaluateResult is returned by a handler's evaluate.
type EvaluateResult int

const (
	EvaluateUnchanged EvaluateResult = iota
	EvaluateSuccess
	EvaluateFailure
	EvaluateStopped
)

// Handler is the per-type dispatch table entry: each action type registers
// a name plus validate/process/evaluate/clean callbacks.
type Handler struct {
	Name string
	// Validate checks attrs are well-formed for this type; returning an
	// error rejects the whole submission batch with Conflict.
	Validate func(attrs map[string]any) error
	// Process is called on every tick while the action is pending.
	Process func(a *Action) ProcessResult
	// Evaluate is called on every tick while the action is active.
	Evaluate func(a *Action) EvaluateResult
	// Clean runs exactly once, on timeout or explicit deletion.
	Clean func(a *Action)
}

// Queue is the FIFO action queue bounded at maxSize, evicting terminal
// entries to make room for new submissions before rejecting them.
type Queue struct {
	mu             sync.Mutex
	maxSize        int
	defaultTimeout time.Duration
	order          []string
	actions        map[string]*Action
	handlers       map[string]*Handler
	newUUID        func() string
}

// New constructs an empty Queue bounded at maxSize, with submitted actions
// defaulting to a 60s timeout when they don't specify one.
func New(maxSize int) *Queue {
	return &Queue{
		maxSize:        maxSize,
		defaultTimeout: 60 * time.Second,
		actions:        make(map[string]*Action),
		handlers:       make(map[string]*Handler),
		newUUID:        func() string { return uuid.NewString() },
	}
}

// SetDefaultTimeout overrides the timeout applied to submitted actions that
// don't specify their own TimeoutS.
func (q *Queue) SetDefaultTimeout(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.defaultTimeout = d
}

// Register adds a per-type handler. Call once per accepted type at
// construction time, before Submit is used.
func (q *Queue) Register(h *Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[h.Name] = h
}

// taskRequest is one element of a submission's {data:[...]} body.
type taskRequest struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
	TimeoutS   uint32         `json:"-"`
}

// SubmitJSON decodes a JSON:API-shaped submission body and enqueues it; it
// is the entry point handler_actions.go calls from POST /api/actions.
func (q *Queue) SubmitJSON(body []byte) ([]*Action, error) {
	tasks, err := ParseSubmission(body)
	if err != nil {
		return nil, apierr.InvalidArg(err.Error())
	}
	return q.Submit(tasks)
}

// Submit validates every task in the batch (rejecting the whole batch on
// any failure), checks capacity, assigns uuids, and enqueues in submission
// order.
func (q *Queue) Submit(tasks []taskRequest) ([]*Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		if t.Type == "" {
			return nil, apierr.Conflict("task type must be a non-empty string")
		}
		h, ok := q.handlers[t.Type]
		if !ok {
			return nil, apierr.Conflict(fmt.Sprintf("unknown task type %q", t.Type))
		}
		if t.Attributes == nil {
			return nil, apierr.Conflict("task attributes must be an object")
		}
		if err := h.Validate(t.Attributes); err != nil {
			return nil, apierr.Conflict(fmt.Sprintf("%s: %v", t.Type, err))
		}
	}

	evictable := q.evictableCountLocked()
	occupied := len(q.order) - evictable
	if occupied+len(tasks) > q.maxSize {
		return nil, apierr.Exhausted("action queue is full")
	}

	needEvict := len(q.order) + len(tasks) - q.maxSize
	for needEvict > 0 {
		q.evictOldestTerminalLocked()
		needEvict--
	}

	now := time.Now()
	created := make([]*Action, 0, len(tasks))
	for _, t := range tasks {
		id := q.newUUID()
		timeout := q.defaultTimeout
		if t.TimeoutS > 0 {
			timeout = time.Duration(t.TimeoutS) * time.Second
		}
		a := &Action{
			ID:         id,
			Type:       t.Type,
			Attributes: t.Attributes,
			Status:     StatusPending,
			CreatedAt:  now,
			TimeoutAt:  now.Add(timeout),
		}
		q.order = append(q.order, id)
		q.actions[id] = a
		created = append(created, a)
	}
	return created, nil
}

func (q *Queue) evictableCountLocked() int {
	n := 0
	for _, id := range q.order {
		if q.actions[id].Status.Terminal() {
			n++
		}
	}
	return n
}

func (q *Queue) evictOldestTerminalLocked() {
	for i, id := range q.order {
		if q.actions[id].Status.Terminal() {
			q.order = append(q.order[:i], q.order[i+1:]...)
			delete(q.actions, id)
			return
		}
	}
}

// Get returns the action for id.
func (q *Queue) Get(id string) (*Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.actions[id]
	return a, ok
}

// All returns a snapshot of all actions in submission order.
func (q *Queue) All() []*Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Action, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.actions[id])
	}
	return out
}

// MarkAllForDeletion implements DELETE /api/actions: every action is marked
// for deletion and cleaned up on the next Tick.
func (q *Queue) MarkAllForDeletion() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		q.actions[id].markedForDelete = true
	}
}

// Tick drives every non-terminal action one step forward: age-check it,
// then process if pending or evaluate if active. Runs on a fixed period and
// immediately after submissions/reads.
func (q *Queue) Tick() {
	q.mu.Lock()
	ids := append([]string(nil), q.order...)
	q.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		q.mu.Lock()
		a, ok := q.actions[id]
		if !ok {
			q.mu.Unlock()
			continue
		}
		h, hasHandler := q.handlers[a.Type]
		q.mu.Unlock()
		if !hasHandler {
			continue
		}

		if a.markedForDelete {
			h.Clean(a)
			a.Status = StatusStopped
			a.LastEvaluatedAt = now
			q.unlink(id)
			continue
		}

		if a.Status != StatusPending && a.Status != StatusActive {
			continue
		}

		if now.After(a.TimeoutAt) {
			h.Clean(a)
			a.Status = StatusStopped
			a.LastEvaluatedAt = now
			continue
		}

		switch a.Status {
		case StatusPending:
			switch h.Process(a) {
			case ProcessPending:
				a.Status = StatusActive
			case ProcessFailure:
				a.Status = StatusFailed
			case ProcessStopped:
				a.Status = StatusStopped
			case ProcessRetry:
				// unchanged
			}
		case StatusActive:
			switch h.Evaluate(a) {
			case EvaluateSuccess:
				a.Status = StatusCompleted
			case EvaluateFailure:
				a.Status = StatusFailed
			case EvaluateStopped:
				a.Status = StatusStopped
			case EvaluateUnchanged:
				// unchanged
			}
		}
		a.LastEvaluatedAt = now
	}
}

func (q *Queue) unlink(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	delete(q.actions, id)
}

// ParseSubmission decodes {"data":[{"type":...,"attributes":
// {...}}]} body into taskRequest rows. A timeout attribute, if present as a
// number, is pulled into TimeoutS; handlers still see it in Attributes.
func ParseSubmission(body []byte) ([]taskRequest, error) {
	var envelope struct {
		Data []struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	out := make([]taskRequest, 0, len(envelope.Data))
	for _, d := range envelope.Data {
		tr := taskRequest{Type: d.Type, Attributes: d.Attributes}
		if d.Attributes != nil {
			if v, ok := d.Attributes["timeout"]; ok {
				if f, ok := v.(float64); ok && f > 0 {
					tr.TimeoutS = uint32(f)
				}
			}
		}
		out = append(out, tr)
	}
	return out, nil
}

func logHandlerError(taskType string, err error) {
	log.Printf("actionqueue: %s handler error: %v", taskType, err)
}
