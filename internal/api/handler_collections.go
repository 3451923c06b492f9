package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/meshcore/tbr-agent/internal/apierr"
	"github.com/meshcore/tbr-agent/internal/collections"
)

// parseFieldsFilter builds the FieldsFilter used for both collections' list
// and item endpoints from ?fields=; nil means "no filter, return everything".
func parseFieldsFilter(r *http.Request, typeName string) collections.FieldsFilter {
	raw := r.URL.Query().Get("fields")
	if raw == "" {
		return nil
	}
	allowed := map[string]bool{}
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			allowed[f] = true
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return collections.FieldsFilter{typeName: allowed}
}

// HandleListCollection implements GET /api/devices and GET /api/diagnostics.
// ?format=plain returns a flat array instead of the json:api envelope, for
// callers that don't care about json:api and want one less layer to unwrap.
func HandleListCollection(c *collections.Collection, typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		filter := parseFieldsFilter(r, typeName)

		var body []byte
		var err error
		if r.URL.Query().Get("format") == "plain" {
			body, err = c.ToPlainJSON(pg.Offset, pg.Limit, filter)
		} else {
			body, err = c.ToJSONAPI(pg.Offset, pg.Limit, filter, nil)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// HandleGetCollectionItem implements GET /api/devices/{id} and
// GET /api/diagnostics/{id}.
func HandleGetCollectionItem(c *collections.Collection, typeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		filter := parseFieldsFilter(r, typeName)
		body, ok := c.ToJSONAPIItem(id, filter)
		if !ok {
			writeServiceError(w, apierr.NotFoundf(fmt.Sprintf("%s %q not found", typeName, id)))
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}

// HandleClearCollection implements DELETE /api/devices and
// DELETE /api/diagnostics (Clear, idempotent).
func HandleClearCollection(c *collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}
