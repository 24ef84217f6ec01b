// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// HTTPRemote is the RemoteStore implementation speaking the syncserver
// REST+websocket API. Authentication is a bearer token supplied per
// request; a nil Token func or an empty token means no session, which
// the engine treats as local-only.
type HTTPRemote struct {
	BaseURL string
	Token   func(ctx context.Context) (string, error)
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

// NewHTTPRemote returns a remote for the server at baseURL.
func NewHTTPRemote(baseURL string, token func(ctx context.Context) (string, error), logger *slog.Logger) *HTTPRemote {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    http.DefaultClient,
		Dialer:  websocket.DefaultDialer,
		Logger:  logger,
	}
}

func (r *HTTPRemote) bearer(ctx context.Context) (string, error) {
	if r.Token == nil {
		return "", ErrUnauthenticated
	}
	token, err := r.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := r.bearer(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// recordList is the snapshot envelope the server sends over REST and
// the realtime feed alike.
type recordList struct {
	Items []Record `json:"items"`
}

type insertResponse struct {
	ID string `json:"id"`
}

func (r *HTTPRemote) QueryAll(ctx context.Context) ([]Record, error) {
	var list recordList
	if err := r.do(ctx, http.MethodGet, "/api/records", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (r *HTTPRemote) Insert(ctx context.Context, rec Record) (string, error) {
	var resp insertResponse
	if err := r.do(ctx, http.MethodPost, "/api/records", rec, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("insert: server returned no id")
	}
	return resp.ID, nil
}

func (r *HTTPRemote) Patch(ctx context.Context, remoteID string, rec Record) error {
	return r.do(ctx, http.MethodPatch, "/api/records/"+remoteID, rec, nil)
}

func (r *HTTPRemote) Delete(ctx context.Context, remoteID string) error {
	err := r.do(ctx, http.MethodDelete, "/api/records/"+remoteID, nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Subscribe opens the websocket feed. The server pushes a full
// snapshot immediately on connect and again after every change.
func (r *HTTPRemote) Subscribe(ctx context.Context) (Subscription, error) {
	token, err := r.bearer(ctx)
	if err != nil {
		return nil, err
	}

	wsURL := r.BaseURL + "/api/records/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := r.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	sub := &wsSubscription{
		conn:    conn,
		updates: make(chan []Record),
		done:    make(chan struct{}),
		logger:  r.Logger,
	}
	go sub.readLoop()
	go func() {
		// Tear the connection down when the caller's context ends so
		// the read loop unblocks.
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// wsSubscription adapts a websocket connection to the Subscription
// contract: an ordered channel of full snapshots.
type wsSubscription struct {
	conn    *websocket.Conn
	updates chan []Record
	done    chan struct{}
	logger  *slog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsSubscription) readLoop() {
	defer close(s.updates)
	defer close(s.done)
	for {
		var list recordList
		if err := s.conn.ReadJSON(&list); err != nil {
			s.mu.Lock()
			if !s.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		items := list.Items
		if items == nil {
			items = []Record{}
		}
		s.updates <- items
	}
}

func (s *wsSubscription) Updates() <-chan []Record {
	return s.updates
}

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
