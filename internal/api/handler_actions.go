package api

import (
	"fmt"
	"net/http"

	"github.com/meshcore/tbr-agent/internal/actionqueue"
	"github.com/meshcore/tbr-agent/internal/apierr"
)

var actionSortFields = []string{"created_at", "status"}

type actionResource struct {
	Type       string                    `json:"type"`
	ID         string                    `json:"id"`
	Attributes actionResourceAttrs       `json:"attributes"`
	Relations  *actionqueue.Relationship `json:"relationship,omitempty"`
}

type actionResourceAttrs struct {
	TaskType        string `json:"task_type"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	TimeoutAt       string `json:"timeout_at"`
	LastEvaluatedAt string `json:"last_evaluated_at,omitempty"`
}

func renderAction(a *actionqueue.Action) actionResource {
	res := actionResource{
		Type: "actions",
		ID:   a.ID,
		Attributes: actionResourceAttrs{
			TaskType:  a.Type,
			Status:    string(a.Status),
			CreatedAt: a.CreatedAt.UTC().Format(rfc3339),
			TimeoutAt: a.TimeoutAt.UTC().Format(rfc3339),
		},
		Relations: a.Relationship,
	}
	if !a.LastEvaluatedAt.IsZero() {
		res.Attributes.LastEvaluatedAt = a.LastEvaluatedAt.UTC().Format(rfc3339)
	}
	return res
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// HandleSubmitActions implements POST /api/actions.
func HandleSubmitActions(q *actionqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readRawBodyOrWriteInvalid(w, r)
		if !ok {
			return
		}
		created, err := q.SubmitJSON(body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		q.Tick()
		data := make([]actionResource, 0, len(created))
		for _, a := range created {
			a, _ = q.Get(a.ID)
			data = append(data, renderAction(a))
		}
		WriteJSON(w, http.StatusCreated, struct {
			Data []actionResource `json:"data"`
		}{Data: data})
	}
}

// HandleListActions implements GET /api/actions. ?active=true|false filters
// on whether the action has reached a terminal status; ?correlates_with=<uuid>
// filters on the stamped Relationship.ID; ?sort_by=created_at|status and
// ?sort_order=asc|desc order the (already filtered) result before paging.
func HandleListActions(q *actionqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		active, ok := parseBoolQueryOrWriteInvalid(w, r, "active")
		if !ok {
			return
		}
		correlatesWith, ok := parseOptionalUUIDQuery(w, r, "correlates_with", "correlates_with")
		if !ok {
			return
		}
		sorting, ok := parseSortingOrWriteInvalid(w, r, actionSortFields, "created_at", "asc")
		if !ok {
			return
		}

		all := q.All()
		filtered := make([]*actionqueue.Action, 0, len(all))
		for _, a := range all {
			if active != nil && *active == a.Status.Terminal() {
				continue
			}
			if correlatesWith != nil && (a.Relationship == nil || a.Relationship.ID != *correlatesWith) {
				continue
			}
			filtered = append(filtered, a)
		}
		SortSlice(filtered, sorting, actionSortKey(sorting.SortBy))

		page := PaginateSlice(filtered, pg)
		data := make([]actionResource, 0, len(page))
		for _, a := range page {
			data = append(data, renderAction(a))
		}
		WriteJSON(w, http.StatusOK, struct {
			Data []actionResource `json:"data"`
			Meta struct {
				Total int `json:"total"`
			} `json:"meta"`
		}{Data: data, Meta: struct {
			Total int `json:"total"`
		}{Total: len(filtered)}})
	}
}

// actionSortKey is SortSlice's key extractor for action listing: sorting by
// status compares the lifecycle name directly, and sorting by created_at
// relies on RFC3339's lexicographic-equals-chronological ordering.
func actionSortKey(sortBy string) func(*actionqueue.Action) string {
	if sortBy == "status" {
		return func(a *actionqueue.Action) string { return string(a.Status) }
	}
	return func(a *actionqueue.Action) string { return a.CreatedAt.UTC().Format(rfc3339) }
}

// HandleGetAction implements GET /api/actions/{id}.
func HandleGetAction(q *actionqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "id")
		if !ok {
			return
		}
		a, found := q.Get(id)
		if !found {
			writeServiceError(w, apierr.NotFoundf(fmt.Sprintf("action %q not found", id)))
			return
		}
		WriteJSON(w, http.StatusOK, struct {
			Data actionResource `json:"data"`
		}{Data: renderAction(a)})
	}
}

// HandleDeleteAllActions implements DELETE /api/actions: every action is
// marked for deletion and cleaned up on the action queue's next tick.
func HandleDeleteAllActions(q *actionqueue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q.MarkAllForDeletion()
		q.Tick()
		w.WriteHeader(http.StatusNoContent)
	}
}
