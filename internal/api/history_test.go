package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dbchat/dbchat/internal/history"
)

func TestHistoryFavoritesFlow(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older, err := f.history.Save(ctx, history.Entry{ConnectionName: "Sales", Prompt: "all orders", Query: "SELECT * FROM dbo.Orders", CreatedAt: base})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	newer, err := f.history.Save(ctx, history.Entry{ConnectionName: "Sales", Prompt: "count", Query: "SELECT COUNT(*) FROM dbo.Orders", CreatedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	list := listHistory(t, f, "/v1/connections/Sales/history")
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("history = %#v", list)
	}

	rr := f.serve(t, nil, http.MethodPost, "/v1/connections/Sales/history/"+older.ID+"/favorite", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("favorite status = %d, body=%s", rr.Code, rr.Body.String())
	}
	favorites := listHistory(t, f, "/v1/connections/Sales/history?favorites=true")
	if len(favorites) != 1 || favorites[0].ID != older.ID || !favorites[0].Favorite {
		t.Fatalf("favorites = %#v", favorites)
	}

	if rr := f.serve(t, nil, http.MethodDelete, "/v1/connections/Sales/history/"+older.ID+"/favorite", ""); rr.Code != http.StatusOK {
		t.Fatalf("unfavorite status = %d", rr.Code)
	}
	if favorites := listHistory(t, f, "/v1/connections/Sales/history?favorites=1"); len(favorites) != 0 {
		t.Fatalf("favorites after unfavorite = %#v", favorites)
	}

	if rr := f.serve(t, nil, http.MethodDelete, "/v1/connections/Sales/history/"+newer.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := f.serve(t, nil, http.MethodDelete, "/v1/connections/Sales/history/"+newer.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
	if rr := f.serve(t, nil, http.MethodPost, "/v1/connections/Sales/history/unknown/favorite", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown favorite status = %d", rr.Code)
	}
}

func TestHistoryRejectsBadFavoritesFilter(t *testing.T) {
	f := newPipelineFixture(t)
	if rr := f.serve(t, nil, http.MethodGet, "/v1/connections/Sales/history?favorites=maybe", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHistoryEmptyListIsArray(t *testing.T) {
	f := newPipelineFixture(t)
	rr := f.serve(t, nil, http.MethodGet, "/v1/connections/Sales/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if entries, ok := body["entries"].([]any); !ok || len(entries) != 0 {
		t.Fatalf("entries = %#v", body["entries"])
	}
}

func listHistory(t *testing.T, f *pipelineFixture, path string) []history.Entry {
	t.Helper()
	rr := f.serve(t, nil, http.MethodGet, path, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Entries []history.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Entries
}
