package localsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func staticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return token, nil }
}

func TestHTTPRemoteNoTokenMeansNoSession(t *testing.T) {
	remote := NewHTTPRemote("http://example.invalid", nil, nil)
	_, err := remote.QueryAll(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)

	remote = NewHTTPRemote("http://example.invalid", staticToken(""), nil)
	_, err = remote.QueryAll(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHTTPRemoteQueryAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/records", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(recordList{Items: []Record{{RemoteID: "r1", Title: "hello"}}})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, staticToken("tok-1"), nil)
	items, err := remote.QueryAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "hello", items[0].Title)
}

func TestHTTPRemoteInsertDecodesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var rec Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		require.Equal(t, "Buy milk", rec.Title)
		json.NewEncoder(w).Encode(insertResponse{ID: "server-id-1"})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, staticToken("tok-1"), nil)
	id, err := remote.Insert(context.Background(), Record{LocalID: "l1", Title: "Buy milk"})
	require.NoError(t, err)
	require.Equal(t, "server-id-1", id)
}

func TestHTTPRemoteStatusMapping(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, staticToken("tok-1"), nil)

	status = http.StatusUnauthorized
	_, err := remote.QueryAll(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)

	status = http.StatusNotFound
	err = remote.Patch(context.Background(), "r1", Record{})
	require.ErrorIs(t, err, ErrNotFound)

	status = http.StatusInternalServerError
	_, err = remote.QueryAll(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthenticated)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPRemoteDeleteToleratesMissingRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, staticToken("tok-1"), nil)
	require.NoError(t, remote.Delete(context.Background(), "already-gone"))
}
