package syncserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsuite/localsync/localsync"
)

// memStorage is an in-memory Storage for handler tests.
type memStorage struct {
	mu      sync.Mutex
	nextID  int
	records map[string]map[string]localsync.Record // userID -> id -> record
}

func newMemStorage() *memStorage {
	return &memStorage{records: make(map[string]map[string]localsync.Record)}
}

func (m *memStorage) QueryAll(ctx context.Context, userID string) ([]localsync.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []localsync.Record
	for id, rec := range m.records[userID] {
		rec.RemoteID = id
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStorage) Insert(ctx context.Context, userID string, rec localsync.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("id-%d", m.nextID)
	if m.records[userID] == nil {
		m.records[userID] = make(map[string]localsync.Record)
	}
	m.records[userID][id] = rec
	return id, nil
}

func (m *memStorage) Patch(ctx context.Context, userID, id string, rec localsync.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID][id]; !ok {
		return ErrNotFound
	}
	m.records[userID][id] = rec
	return nil
}

func (m *memStorage) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID][id]; !ok {
		return ErrNotFound
	}
	delete(m.records[userID], id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *JWTAuth, *Service) {
	t.Helper()
	auth := NewJWTAuth("test-secret")
	service := NewService(newMemStorage(), nil)
	handlers := NewHandlers(service, auth, nil)

	mux := http.NewServeMux()
	handlers.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, auth, service
}

func bearerFor(t *testing.T, auth *JWTAuth, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, "device-1", time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordsRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/records", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/records", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInsertListRoundTrip(t *testing.T) {
	srv, auth, _ := newTestServer(t)
	bearer := bearerFor(t, auth, "user-1")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/records", bearer,
		localsync.Record{LocalID: "l1", Title: "Buy milk"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/records", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap SnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, created.ID, snap.Items[0].RemoteID)
	assert.Equal(t, "l1", snap.Items[0].LocalID)
	assert.Equal(t, "Buy milk", snap.Items[0].Title)
}

func TestListIsScopedToUser(t *testing.T) {
	srv, auth, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/records",
		bearerFor(t, auth, "user-1"), localsync.Record{Title: "mine"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/records",
		bearerFor(t, auth, "user-2"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap SnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Empty(t, snap.Items)
}

func TestPatchAndDelete(t *testing.T) {
	srv, auth, _ := newTestServer(t)
	bearer := bearerFor(t, auth, "user-1")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/records", bearer,
		localsync.Record{Title: "before"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = doRequest(t, http.MethodPatch, srv.URL+"/api/records/"+created.ID, bearer,
		localsync.Record{Title: "after"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/records", bearer, nil)
	var snap SnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "after", snap.Items[0].Title)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/records/"+created.ID, bearer, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/records", bearer, nil)
	snap = SnapshotResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Empty(t, snap.Items)
}

func TestPatchAndDeleteUnknownIDReturn404(t *testing.T) {
	srv, auth, _ := newTestServer(t)
	bearer := bearerFor(t, auth, "user-1")

	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/records/nope", bearer,
		localsync.Record{Title: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/records/nope", bearer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInsertRejectsMalformedBody(t *testing.T) {
	srv, auth, _ := newTestServer(t)
	bearer := bearerFor(t, auth, "user-1")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/records",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body.Error)
}

func TestSubscribeDeliversInitialAndChangedSnapshots(t *testing.T) {
	srv, auth, service := newTestServer(t)
	token, err := auth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/records/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	// Connecting delivers data even when the record set is empty.
	var snap SnapshotResponse
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	require.NotNil(t, snap.Items)
	assert.Empty(t, snap.Items)

	_, err = service.Insert(context.Background(), "user-1", localsync.Record{Title: "Buy milk"})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Buy milk", snap.Items[0].Title)
}

func TestSubscribeIgnoresOtherUsersChanges(t *testing.T) {
	srv, auth, service := newTestServer(t)
	token, err := auth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/records/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	var snap SnapshotResponse
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))

	_, err = service.Insert(context.Background(), "user-2", localsync.Record{Title: "not yours"})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	err = conn.ReadJSON(&snap)
	require.Error(t, err) // timeout: nothing was delivered
}

func TestHubLatestWins(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("user-1")
	defer hub.Unsubscribe(sub)

	hub.Broadcast("user-1", []localsync.Record{{Title: "stale"}})
	hub.Broadcast("user-1", []localsync.Record{{Title: "fresh"}})

	items := <-sub.Snapshots()
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].Title)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("user-1")
	hub.Unsubscribe(sub)

	_, ok := <-sub.Snapshots()
	assert.False(t, ok)

	// Broadcasting after unsubscribe must not panic on the closed channel.
	hub.Broadcast("user-1", nil)
}
