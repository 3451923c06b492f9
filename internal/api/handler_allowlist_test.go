package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshcore/tbr-agent/internal/allowlist"
)

type fakeAllowlistCommissioner struct{}

func (f *fakeAllowlistCommissioner) StartCommissioner() error               { return nil }
func (f *fakeAllowlistCommissioner) StopCommissioner() error                { return nil }
func (f *fakeAllowlistCommissioner) AddJoiner(eui64, pskd string, timeoutS uint32) error {
	return nil
}
func (f *fakeAllowlistCommissioner) RemoveJoiner(eui64 string) error { return nil }

func TestHandleListAllowlist_ReturnsOnlyNonTerminalEntries(t *testing.T) {
	list := allowlist.New(&fakeAllowlistCommissioner{})
	list.StopEarlierAndAdd("eui1", "action1", "pskd1", 60)
	list.StopEarlierAndAdd("eui2", "action2", "pskd2", 60)
	list.OnJoinerStart("eui2")
	list.OnJoinerFinalize("eui2")

	handler := HandleListAllowlist(list)
	req := httptest.NewRequest(http.MethodGet, "/api/allowlist", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	assertBodyContains(t, rec, "eui1")
	assertBodyContains(t, rec, "action1")
	assertBodyContains(t, rec, `"state":"pending_joiner"`)
}

func TestHandleListAllowlist_EmptyListReturnsEmptyData(t *testing.T) {
	list := allowlist.New(&fakeAllowlistCommissioner{})
	handler := HandleListAllowlist(list)
	req := httptest.NewRequest(http.MethodGet, "/api/allowlist", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	assertBodyContains(t, rec, `"data":[]`)
}
