package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/repository"
)

var _ repository.DocumentRepository = (*Client)(nil)

// fakeAPI is an in-memory REST store keyed by collection path and id.
type fakeAPI struct {
	mu   sync.Mutex
	docs map[string]map[string]document
	now  time.Time
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		docs: map[string]map[string]document{"/api/documents": {}, "/api/drawings": {}},
		now:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "Invalid token"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	coll, id := r.URL.Path, ""
	for prefix := range f.docs {
		if strings.HasPrefix(r.URL.Path, prefix+"/") {
			coll, id = prefix, strings.TrimPrefix(r.URL.Path, prefix+"/")
		}
	}
	store, ok := f.docs[coll]
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no route"})
		return
	}

	switch {
	case r.Method == http.MethodPost && id == "":
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "bad body"})
			return
		}
		d := document{ID: req.ID, Title: req.Title, Content: req.Content, UpdatedAt: f.now}
		store[req.ID] = d
		writeJSON(w, http.StatusOK, d)
	case r.Method == http.MethodGet && id == "":
		out := make([]document, 0, len(store))
		for _, d := range store {
			out = append(out, d)
		}
		writeJSON(w, http.StatusOK, out)
	case r.Method == http.MethodGet:
		d, ok := store[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "Document not found"})
			return
		}
		writeJSON(w, http.StatusOK, d)
	case r.Method == http.MethodDelete:
		if _, ok := store[id]; !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "Document not found"})
			return
		}
		delete(store, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method"})
	}
}

func TestClient_RoundTrip(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := New(srv.URL, "good")
	ctx := context.Background()

	saved, err := c.Put(ctx, model.DocumentSnapshot{Kind: model.KindDrawing, DocID: "d1", Title: "sketch", Content: "[]"})
	require.NoError(t, err)
	require.Equal(t, model.KindDrawing, saved.Kind)
	require.Equal(t, "d1", saved.DocID)
	require.False(t, saved.UpdatedAt.IsZero())

	got, err := c.Get(ctx, model.KindDrawing, "d1")
	require.NoError(t, err)
	require.Equal(t, "[]", got.Content)
	require.Equal(t, "sketch", got.Title)

	list, err := c.List(ctx, model.KindDrawing)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "d1", list[0].DocID)

	// drawings and documents are separate collections
	list, err = c.List(ctx, model.KindDocument)
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, c.Delete(ctx, model.KindDrawing, "d1"))
	_, err = c.Get(ctx, model.KindDrawing, "d1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClient_ErrorMapping(t *testing.T) {
	_, srv := newFakeAPI(t)
	ctx := context.Background()

	_, err := New(srv.URL, "bad").Get(ctx, model.KindDocument, "x")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Contains(t, err.Error(), "Invalid token")

	err = New(srv.URL, "good").Delete(ctx, model.KindDocument, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Contains(t, err.Error(), "Document not found")

	_, err = New(srv.URL, "good").Put(ctx, model.DocumentSnapshot{Kind: model.KindDocument})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad body")

	_, err = New(srv.URL, "good").List(ctx, model.Kind("poem"))
	require.ErrorIs(t, err, errs.ErrInvalidKind)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "good", WithTimeout(time.Second)).List(context.Background(), model.KindDocument)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}
