package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/accelara/gamedl/internal/engine"
	"github.com/accelara/gamedl/internal/model"
)

// fakeEngine records every call and can delay or block individual
// operations so tests control interleavings.
type fakeEngine struct {
	mu     sync.Mutex
	events []string
	ids    map[string]model.GameID
	sinks  map[model.GameID]engine.Sink
	idents map[model.GameID]model.Identity
	nextID model.GameID

	delay map[string]time.Duration
	errs  map[string]error
	gates map[string]chan struct{}
	enter map[string]chan struct{}

	removeCalls atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ids:    make(map[string]model.GameID),
		sinks:  make(map[model.GameID]engine.Sink),
		idents: make(map[model.GameID]model.Identity),
		delay:  make(map[string]time.Duration),
		errs:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
		enter:  make(map[string]chan struct{}),
	}
}

// block makes op wait until the returned release function is called and
// returns a channel closed when op is entered.
func (f *fakeEngine) block(op string) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.enter[op] = in
	f.mu.Unlock()
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeEngine) setDelay(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[op] = d
}

func (f *fakeEngine) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeEngine) call(ctx context.Context, op string, id model.GameID) error {
	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf("%s:%d:begin", op, id))
	delay := f.delay[op]
	gate := f.gates[op]
	in := f.enter[op]
	delete(f.enter, op)
	err := f.errs[op]
	f.mu.Unlock()

	if in != nil {
		close(in)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf("%s:%d:end", op, id))
	f.mu.Unlock()
	return err
}

func (f *fakeEngine) Start(ctx context.Context, id model.Identity, sink engine.Sink) (model.Game, error) {
	f.mu.Lock()
	key := string(id.Shop) + "/" + id.ObjectID
	gid, ok := f.ids[key]
	if !ok {
		f.nextID++
		gid = f.nextID
		f.ids[key] = gid
	}
	f.sinks[gid] = sink
	f.idents[gid] = id
	f.mu.Unlock()

	if err := f.call(ctx, "start", gid); err != nil {
		return model.Game{}, err
	}
	return model.Game{ID: gid, Identity: id, Status: model.StatusDownloadingMetadata}, nil
}

func (f *fakeEngine) Pause(ctx context.Context, id model.GameID) error {
	return f.call(ctx, "pause", id)
}

func (f *fakeEngine) Resume(ctx context.Context, id model.GameID) error {
	return f.call(ctx, "resume", id)
}

func (f *fakeEngine) Cancel(ctx context.Context, id model.GameID) error {
	return f.call(ctx, "cancel", id)
}

func (f *fakeEngine) RemoveFiles(ctx context.Context, id model.GameID) error {
	f.removeCalls.Add(1)
	return f.call(ctx, "remove", id)
}

func (f *fakeEngine) RemoveFromLibrary(ctx context.Context, id model.GameID) error {
	return f.call(ctx, "unlist", id)
}

// emit publishes a packet for id using the session identity it was
// started with.
func (f *fakeEngine) emit(id model.GameID, status model.Status, downloaded, size int64) {
	f.mu.Lock()
	sink := f.sinks[id]
	ident := f.idents[id]
	f.mu.Unlock()
	f.emitAs(sink, ident.SessionID, id, status, downloaded, size)
}

func (f *fakeEngine) emitAs(sink engine.Sink, session string, id model.GameID, status model.Status, downloaded, size int64) {
	sink.Publish(model.Packet{
		SessionID: session,
		Game: model.Game{
			ID:              id,
			Status:          status,
			BytesDownloaded: downloaded,
			FileSize:        size,
		},
		DownloadSpeed: 1024,
		TimeRemaining: time.Minute,
	})
}

func (f *fakeEngine) sessionOf(id model.GameID) (engine.Sink, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[id], f.idents[id].SessionID
}

func (f *fakeEngine) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeLibrary struct {
	calls atomic.Int32
	err   error
}

func (l *fakeLibrary) UpdateLibrary(context.Context) error {
	l.calls.Add(1)
	return l.err
}
