package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/accelara/gamedl/internal/engine"
	"github.com/accelara/gamedl/internal/model"
	"github.com/accelara/gamedl/internal/progress"
	"github.com/accelara/gamedl/internal/stream"
)

// ErrAlreadyActive is returned when a game already has an active download.
var ErrAlreadyActive = errors.New("download already active")

// Library refreshes the persisted game catalogue.
type Library interface {
	UpdateLibrary(ctx context.Context) error
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	Logger         *slog.Logger
	Now            func() time.Time
	NewSessionID   func() string
	RefreshTimeout time.Duration
}

type entry struct {
	identity model.Identity
	status   model.Status
	// resumeTo is the phase a paused download continues in.
	resumeTo model.Status
}

// Coordinator is the session registry. Only one session is in the
// foreground and feeds the progress stream at a time.
type Coordinator struct {
	engine  engine.Engine
	library Library
	stream  *stream.Stream
	log     *slog.Logger

	now            func() time.Time
	newSessionID   func() string
	refreshTimeout time.Duration

	// owner serializes lifecycle commands and file removal.
	owner chan struct{}

	mu         sync.Mutex
	sessions   map[model.GameID]*entry
	foreground model.GameID
	deleting   map[model.GameID]struct{}

	removals  singleflight.Group
	refreshes sync.WaitGroup
}

// New creates a Coordinator driving eng. library may be nil.
func New(eng engine.Engine, library Library, opts Options) *Coordinator {
	c := &Coordinator{
		engine:         eng,
		library:        library,
		stream:         stream.New(),
		log:            opts.Logger,
		now:            opts.Now,
		newSessionID:   opts.NewSessionID,
		refreshTimeout: opts.RefreshTimeout,
		owner:          make(chan struct{}, 1),
		sessions:       make(map[model.GameID]*entry),
		deleting:       make(map[model.GameID]struct{}),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newSessionID == nil {
		c.newSessionID = uuid.NewString
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = 30 * time.Second
	}
	return c
}

// Close waits for pending library refreshes.
func (c *Coordinator) Close() {
	c.refreshes.Wait()
}

func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	select {
	case c.owner <- struct{}{}:
		return func() { <-c.owner }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartDownload begins downloading id. A different foreground download is
// paused first; a second start for the same game is rejected.
func (c *Coordinator) StartDownload(ctx context.Context, id model.Identity) (model.Game, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return model.Game{}, err
	}
	defer release()

	c.mu.Lock()
	for gid, e := range c.sessions {
		if e.identity.SameGame(id) && e.status.IsActive() {
			c.mu.Unlock()
			return model.Game{}, fmt.Errorf("start game %d: %w", gid, ErrAlreadyActive)
		}
	}
	c.mu.Unlock()

	if err := c.backgroundForeground(ctx); err != nil {
		return model.Game{}, err
	}

	id.SessionID = c.newSessionID()
	game, err := c.engine.Start(ctx, id, engine.SinkFunc(c.ingest))
	if err != nil {
		return model.Game{}, fmt.Errorf("start %q: %w", id.Title, err)
	}
	game.Identity = id
	game.Status = model.StatusDownloadingMetadata

	c.mu.Lock()
	c.sessions[game.ID] = &entry{identity: id, status: model.StatusDownloadingMetadata}
	c.foreground = game.ID
	c.stream.Bind(id.SessionID)
	c.mu.Unlock()

	c.log.Info("download started", "game_id", game.ID, "title", id.Title, "session", id.SessionID)
	c.refreshLibrary()
	return game, nil
}

// backgroundForeground pauses the current foreground download if it is
// still transferring. Must be called with the owner held.
func (c *Coordinator) backgroundForeground(ctx context.Context) error {
	c.mu.Lock()
	fg := c.foreground
	e, ok := c.sessions[fg]
	transferring := ok && e.status.IsTransferring()
	c.mu.Unlock()
	if !transferring {
		return nil
	}

	if err := Propagate.Handle(c.log, "background", fg, c.engine.Pause(ctx, fg)); err != nil {
		return err
	}
	c.mu.Lock()
	c.transition(fg, model.StatusPaused)
	c.foreground = 0
	c.stream.Unbind()
	c.mu.Unlock()
	c.log.Info("download moved to background", "game_id", fg)
	return nil
}

// PauseDownload pauses a transferring download. Calls from any other state
// are logged and ignored.
func (c *Coordinator) PauseDownload(ctx context.Context, id model.GameID) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if st := c.Status(id); st != model.StatusDownloading {
		c.log.Warn("pause ignored", "game_id", id, "status", st.String())
		return nil
	}
	if err := Propagate.Handle(c.log, "pause", id, c.engine.Pause(ctx, id)); err != nil {
		return err
	}

	c.mu.Lock()
	c.transition(id, model.StatusPaused)
	if c.foreground == id {
		c.stream.Clear()
	}
	c.mu.Unlock()

	c.refreshLibrary()
	return nil
}

// ResumeDownload resumes a paused download and brings it to the
// foreground. Calls from any other state are logged and ignored.
func (c *Coordinator) ResumeDownload(ctx context.Context, id model.GameID) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if st := c.Status(id); st != model.StatusPaused {
		c.log.Warn("resume ignored", "game_id", id, "status", st.String())
		return nil
	}

	c.mu.Lock()
	other := c.foreground != id
	c.mu.Unlock()
	if other {
		if err := c.backgroundForeground(ctx); err != nil {
			return err
		}
	}

	if err := Propagate.Handle(c.log, "resume", id, c.engine.Resume(ctx, id)); err != nil {
		return err
	}

	c.mu.Lock()
	c.transition(id, c.sessions[id].resumePhase())
	if c.foreground != id {
		c.foreground = id
		c.stream.Bind(c.sessions[id].identity.SessionID)
	}
	c.mu.Unlock()

	c.refreshLibrary()
	return nil
}

// CancelDownload stops a download and clears its session. Files stay on
// disk. Cancelling an unknown or already cancelled download succeeds.
func (c *Coordinator) CancelDownload(ctx context.Context, id model.GameID) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := c.cancelLocked(ctx, id); err != nil {
		return err
	}
	c.refreshLibrary()
	return nil
}

func (c *Coordinator) cancelLocked(ctx context.Context, id model.GameID) error {
	err := c.engine.Cancel(ctx, id)
	if errors.Is(err, engine.ErrNotFound) {
		err = nil
	}
	if err := Propagate.Handle(c.log, "cancel", id, err); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		if e.status.IsActive() {
			c.transition(id, model.StatusCancelled)
		}
		delete(c.sessions, id)
		c.log.Info("download cancelled", "game_id", id, "session", e.identity.SessionID)
	}
	if c.foreground == id {
		c.foreground = 0
		c.stream.Unbind()
	}
	return nil
}

// ClearDownload drops the live packet and forgets a foreground session
// that already finished.
func (c *Coordinator) ClearDownload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stream.Clear()
	e, ok := c.sessions[c.foreground]
	if !ok {
		return
	}
	switch e.status {
	case model.StatusCompleted, model.StatusCancelled, model.StatusError:
		delete(c.sessions, c.foreground)
		c.foreground = 0
		c.stream.Unbind()
	case model.StatusNone, model.StatusDownloadingMetadata, model.StatusCheckingFiles,
		model.StatusDownloading, model.StatusPaused:
	}
}

// RemoveGameFromLibrary removes the catalogue entry for id.
func (c *Coordinator) RemoveGameFromLibrary(ctx context.Context, id model.GameID) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := Propagate.Handle(c.log, "remove from library", id, c.engine.RemoveFromLibrary(ctx, id)); err != nil {
		return err
	}
	c.refreshLibrary()
	return nil
}

// ingest applies a packet emitted by the engine. Packets for sessions that
// are not in the foreground are dropped.
func (c *Coordinator) ingest(p model.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.sessions[p.Game.ID]
	if !ok || c.foreground != p.Game.ID || e.identity.SessionID != p.SessionID {
		return
	}
	if e.status == model.StatusPaused {
		return
	}

	next := p.Game.Status
	switch next {
	case model.StatusCheckingFiles, model.StatusDownloading, model.StatusCompleted, model.StatusError:
		if next != e.status && e.status.CanTransition(next) {
			c.transition(p.Game.ID, next)
		}
	case model.StatusNone, model.StatusDownloadingMetadata, model.StatusPaused, model.StatusCancelled:
	}
	p.Game.Status = e.status
	p.Game.Identity = e.identity
	c.stream.Publish(p)
}

// transition moves id to next. Caller holds c.mu.
func (c *Coordinator) transition(id model.GameID, next model.Status) {
	e, ok := c.sessions[id]
	if !ok {
		return
	}
	if !e.status.CanTransition(next) {
		c.log.Warn("invalid transition", "game_id", id, "from", e.status.String(), "to", next.String())
		return
	}
	level := slog.LevelDebug
	if next == model.StatusError {
		level = slog.LevelWarn
	}
	c.log.Log(context.Background(), level, "status changed", "game_id", id, "from", e.status.String(), "to", next.String())
	if next == model.StatusPaused {
		e.resumeTo = e.status
	}
	e.status = next
}

func (e *entry) resumePhase() model.Status {
	if e.resumeTo.IsVerifying() {
		return e.resumeTo
	}
	return model.StatusDownloading
}

func (c *Coordinator) refreshLibrary() {
	if c.library == nil {
		return
	}
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		_ = BestEffort.Handle(c.log, "update library", 0, c.library.UpdateLibrary(ctx))
	}()
}

// Status returns the tracked status of id, StatusNone when untracked.
func (c *Coordinator) Status(id model.GameID) model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		return e.status
	}
	return model.StatusNone
}

// Foreground returns the game feeding the progress stream.
func (c *Coordinator) Foreground() (model.GameID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground, c.foreground != 0
}

// Snapshot derives the current read model from the latest packet.
func (c *Coordinator) Snapshot() progress.View {
	p, ok := c.stream.Latest()
	if !ok {
		return progress.Aggregate(nil, c.now())
	}
	return progress.Aggregate(&p, c.now())
}

// Subscribe returns a channel signalled on every observable change.
func (c *Coordinator) Subscribe() (<-chan struct{}, func()) {
	return c.stream.Subscribe()
}
