package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meshcore/tbr-agent/internal/actionqueue"
)

func newTestActionHandler(name string) *actionqueue.Handler {
	return &actionqueue.Handler{
		Name:     name,
		Validate: func(attrs map[string]any) error { return nil },
		Process:  func(a *actionqueue.Action) actionqueue.ProcessResult { return actionqueue.ProcessPending },
		Evaluate: func(a *actionqueue.Action) actionqueue.EvaluateResult { return actionqueue.EvaluateUnchanged },
		Clean:    func(a *actionqueue.Action) {},
	}
}

func TestHandleSubmitActions_RejectsUnknownType(t *testing.T) {
	q := actionqueue.New(10)
	q.Register(newTestActionHandler("known"))
	handler := HandleSubmitActions(q)

	body := `{"data":[{"type":"unknown","attributes":{}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleSubmitActions_CreatesAndTicksSubmittedActions(t *testing.T) {
	q := actionqueue.New(10)
	q.Register(newTestActionHandler("known"))
	handler := HandleSubmitActions(q)

	body := `{"data":[{"type":"known","attributes":{}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusCreated)
	}
	assertBodyContains(t, rec, `"type":"actions"`)
	assertBodyContains(t, rec, `"status":"active"`) // ticked once: process already ran
}

func TestHandleListActions_ActiveFilterAndSorting(t *testing.T) {
	q := actionqueue.New(10)
	q.Register(&actionqueue.Handler{
		Name:     "known",
		Validate: func(attrs map[string]any) error { return nil },
		Process:  func(a *actionqueue.Action) actionqueue.ProcessResult { return actionqueue.ProcessPending },
		Evaluate: func(a *actionqueue.Action) actionqueue.EvaluateResult {
			if a.Attributes["finish"] == true {
				return actionqueue.EvaluateSuccess
			}
			return actionqueue.EvaluateUnchanged
		},
		Clean: func(a *actionqueue.Action) {},
	})

	body := `{"data":[{"type":"known","attributes":{"finish":true}},{"type":"known","attributes":{}}]}`
	created, err := q.SubmitJSON([]byte(body))
	if err != nil {
		t.Fatalf("SubmitJSON: %v", err)
	}
	q.Tick() // pending -> active
	q.Tick() // first action's evaluate fires -> completed

	handler := HandleListActions(q)

	req := httptest.NewRequest(http.MethodGet, "/api/actions?active=true", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	assertBodyContains(t, rec, created[1].ID)
	if strings.Contains(rec.Body.String(), created[0].ID) {
		t.Fatal("expected the completed action to be excluded by active=true")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/actions?active=false", nil)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assertBodyContains(t, rec, created[0].ID)
	if strings.Contains(rec.Body.String(), created[1].ID) {
		t.Fatal("expected the still-active action to be excluded by active=false")
	}
}

func TestHandleListActions_RejectsInvalidSortField(t *testing.T) {
	q := actionqueue.New(10)
	handler := HandleListActions(q)
	req := httptest.NewRequest(http.MethodGet, "/api/actions?sort_by=bogus", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGetAction_RejectsNonUUIDPathParam(t *testing.T) {
	q := actionqueue.New(10)
	handler := HandleGetAction(q)

	req := httptest.NewRequest(http.MethodGet, "/api/actions/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGetAction_NotFound(t *testing.T) {
	q := actionqueue.New(10)
	handler := HandleGetAction(q)

	id := "11111111-1111-1111-1111-111111111111"
	req := httptest.NewRequest(http.MethodGet, "/api/actions/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetAction_Found(t *testing.T) {
	q := actionqueue.New(10)
	q.Register(newTestActionHandler("known"))

	list, err := q.SubmitJSON([]byte(`{"data":[{"type":"known","attributes":{}}]}`))
	if err != nil {
		t.Fatalf("SubmitJSON: %v", err)
	}

	handler := HandleGetAction(q)
	id := list[0].ID
	req := httptest.NewRequest(http.MethodGet, "/api/actions/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	assertBodyContains(t, rec, id)
}

func TestHandleDeleteAllActions_MarksAndTicksToStopped(t *testing.T) {
	q := actionqueue.New(10)
	q.Register(newTestActionHandler("known"))
	list, err := q.SubmitJSON([]byte(`{"data":[{"type":"known","attributes":{}}]}`))
	if err != nil {
		t.Fatalf("SubmitJSON: %v", err)
	}
	q.Tick()

	handler := HandleDeleteAllActions(q)
	req := httptest.NewRequest(http.MethodDelete, "/api/actions", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if _, ok := q.Get(list[0].ID); ok {
		t.Fatal("expected the action to be unlinked from the queue after deletion")
	}
}
