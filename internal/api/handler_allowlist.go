package api

import (
	"net/http"

	"github.com/meshcore/tbr-agent/internal/allowlist"
)

type allowlistEntryResource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes struct {
		EUI64     string `json:"eui64"`
		ActionID  string `json:"action_id"`
		State     string `json:"state"`
		TimeoutS  uint32 `json:"timeout_s"`
		CreatedAt string `json:"created_at"`
	} `json:"attributes"`
}

// HandleListAllowlist implements GET /api/allowlist: a read-only view of
// non-terminal commissioner joiner entries, useful for operators watching
// an in-progress add-thread-device action.
func HandleListAllowlist(list *allowlist.List) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := list.NonTerminal()
		data := make([]allowlistEntryResource, 0, len(entries))
		for _, e := range entries {
			res := allowlistEntryResource{Type: "allowlist-entries", ID: e.EUI64}
			res.Attributes.EUI64 = e.EUI64
			res.Attributes.ActionID = e.ActionID
			res.Attributes.State = string(e.State)
			res.Attributes.TimeoutS = e.TimeoutS
			res.Attributes.CreatedAt = e.CreatedAt.UTC().Format(rfc3339)
			data = append(data, res)
		}
		WriteJSON(w, http.StatusOK, struct {
			Data []allowlistEntryResource `json:"data"`
		}{Data: data})
	}
}
