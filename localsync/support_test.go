package localsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errNetwork = errors.New("network down")

// fakeRemote is an in-memory RemoteStore with scriptable failures.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]Record // keyed by remote id
	nextID  int

	failCount   int // fail this many calls, then succeed
	failForever bool
	unauth      bool

	insertCalls int
	patchCalls  int
	deleteCalls int

	// insertHook runs mid-insert, after the request is accepted but
	// before the response, to script in-flight interleavings.
	insertHook func()

	subs []*fakeSub
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]Record)}
}

func (f *fakeRemote) failNext() error {
	if f.unauth {
		return ErrUnauthenticated
	}
	if f.failForever {
		return errNetwork
	}
	if f.failCount > 0 {
		f.failCount--
		return errNetwork
	}
	return nil
}

func (f *fakeRemote) QueryAll(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext(); err != nil {
		return nil, err
	}
	return f.snapshotLocked(), nil
}

func (f *fakeRemote) Insert(ctx context.Context, rec Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if err := f.failNext(); err != nil {
		return "", err
	}
	if f.insertHook != nil {
		f.insertHook()
	}
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	rec.RemoteID = id
	f.records[id] = rec
	return id, nil
}

func (f *fakeRemote) Patch(ctx context.Context, remoteID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	if err := f.failNext(); err != nil {
		return err
	}
	if _, ok := f.records[remoteID]; !ok {
		return ErrNotFound
	}
	rec.RemoteID = remoteID
	f.records[remoteID] = rec
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if err := f.failNext(); err != nil {
		return err
	}
	delete(f.records, remoteID)
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauth {
		return nil, ErrUnauthenticated
	}
	sub := &fakeSub{ch: make(chan []Record, 16)}
	f.subs = append(f.subs, sub)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// push delivers a snapshot to every open subscription.
func (f *fakeRemote) push(items []Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.push(items)
	}
}

func (f *fakeRemote) snapshotLocked() []Record {
	out := make([]Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out
}

func (f *fakeRemote) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeRemote) snapshot() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

type fakeSub struct {
	mu     sync.Mutex
	ch     chan []Record
	closed bool
}

func (s *fakeSub) Updates() <-chan []Record { return s.ch }
func (s *fakeSub) Err() error               { return nil }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *fakeSub) push(items []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- items
	}
}

// pendingLen reads the engine's queue depth for assertions.
func (e *Engine) pendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
