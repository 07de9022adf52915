package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelara/gamedl/internal/engine"
	"github.com/accelara/gamedl/internal/model"
)

type harness struct {
	c   *Coordinator
	eng *fakeEngine
	lib *fakeLibrary
	out *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	out := &bytes.Buffer{}
	h := &harness{eng: newFakeEngine(), lib: &fakeLibrary{}, out: out}
	seq := 0
	h.c = New(h.eng, h.lib, Options{
		Logger: slog.New(slog.NewJSONHandler(&lockedWriter{w: out}, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		NewSessionID: func() string {
			seq++
			return fmt.Sprintf("session-%d", seq)
		},
	})
	t.Cleanup(h.c.Close)
	return h
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func identity(objectID string) model.Identity {
	return model.Identity{
		RepackID:     1,
		ObjectID:     objectID,
		Title:        "Game " + objectID,
		Shop:         model.ShopSteam,
		DownloadPath: "/games",
	}
}

func (h *harness) start(t *testing.T, objectID string) model.Game {
	t.Helper()
	g, err := h.c.StartDownload(context.Background(), identity(objectID))
	require.NoError(t, err)
	return g
}

func (h *harness) startDownloading(t *testing.T, objectID string) model.Game {
	t.Helper()
	g := h.start(t, objectID)
	h.eng.emit(g.ID, model.StatusDownloading, 100, 1000)
	require.Equal(t, model.StatusDownloading, h.c.Status(g.ID))
	return g
}

func TestStartDownload(t *testing.T) {
	h := newHarness(t)
	g := h.start(t, "100")

	assert.Equal(t, model.StatusDownloadingMetadata, g.Status)
	assert.Equal(t, "session-1", g.Identity.SessionID)
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(g.ID))

	fg, ok := h.c.Foreground()
	assert.True(t, ok)
	assert.Equal(t, g.ID, fg)
	assert.Eventually(t, func() bool { return h.lib.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStartDownload_RejectsSameGameWhileActive(t *testing.T) {
	h := newHarness(t)
	h.start(t, "100")

	_, err := h.c.StartDownload(context.Background(), identity("100"))
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStartDownload_EngineFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.eng.fail("start", engine.ErrEngineUnavailable)

	_, err := h.c.StartDownload(context.Background(), identity("100"))
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
	_, ok := h.c.Foreground()
	assert.False(t, ok)
}

func TestStartDownload_SupersedesForeground(t *testing.T) {
	h := newHarness(t)
	first := h.startDownloading(t, "100")
	second := h.start(t, "200")

	assert.Equal(t, model.StatusPaused, h.c.Status(first.ID))
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(second.ID))
	assert.Contains(t, h.eng.log(), fmt.Sprintf("pause:%d:end", first.ID))

	fg, _ := h.c.Foreground()
	assert.Equal(t, second.ID, fg)
}

func TestStartDownload_SupersedeFailureRejectsStart(t *testing.T) {
	h := newHarness(t)
	first := h.startDownloading(t, "100")
	h.eng.fail("pause", engine.ErrEngineUnavailable)

	_, err := h.c.StartDownload(context.Background(), identity("200"))
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
	assert.Equal(t, model.StatusDownloading, h.c.Status(first.ID))
}

func TestPacketsDriveVerificationPhases(t *testing.T) {
	h := newHarness(t)
	g := h.start(t, "100")

	h.eng.emit(g.ID, model.StatusCheckingFiles, 0, 1000)
	assert.Equal(t, model.StatusCheckingFiles, h.c.Status(g.ID))
	v := h.c.Snapshot()
	assert.True(t, v.IsVerifying)
	assert.Empty(t, v.ETA)

	h.eng.emit(g.ID, model.StatusDownloading, 250, 1000)
	v = h.c.Snapshot()
	assert.Equal(t, model.StatusDownloading, h.c.Status(g.ID))
	assert.False(t, v.IsVerifying)
	assert.Equal(t, 0.25, v.Progress)
	assert.Equal(t, "1 minute from now", v.ETA)

	h.eng.emit(g.ID, model.StatusCompleted, 1000, 1000)
	assert.Equal(t, model.StatusCompleted, h.c.Status(g.ID))
	assert.Equal(t, 1.0, h.c.Snapshot().Progress)
}

func TestPauseResume_RoundTrip(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.PauseDownload(ctx, g.ID))
		assert.Equal(t, model.StatusPaused, h.c.Status(g.ID))
		assert.False(t, h.c.Snapshot().IsDownloading, "pause clears the live packet")

		require.NoError(t, h.c.ResumeDownload(ctx, g.ID))
		assert.Equal(t, model.StatusDownloading, h.c.Status(g.ID))
	}

	h.eng.emit(g.ID, model.StatusDownloading, 500, 1000)
	assert.Equal(t, 0.5, h.c.Snapshot().Progress)
}

func TestPause_DropsPacketsWhilePaused(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")
	require.NoError(t, h.c.PauseDownload(context.Background(), g.ID))

	h.eng.emit(g.ID, model.StatusDownloading, 600, 1000)
	assert.False(t, h.c.Snapshot().IsDownloading)
	assert.Equal(t, model.StatusPaused, h.c.Status(g.ID))
}

func TestPauseResume_WrongStateIsNoop(t *testing.T) {
	h := newHarness(t)
	g := h.start(t, "100")
	ctx := context.Background()

	require.NoError(t, h.c.PauseDownload(ctx, g.ID))
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(g.ID))

	require.NoError(t, h.c.ResumeDownload(ctx, g.ID))
	require.NoError(t, h.c.ResumeDownload(ctx, 999))
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(g.ID))

	assert.NotContains(t, h.eng.log(), fmt.Sprintf("pause:%d:begin", g.ID))
	assert.Contains(t, h.out.String(), "pause ignored")
	assert.Contains(t, h.out.String(), "resume ignored")
}

func TestPause_EngineFailurePropagates(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")
	h.eng.fail("pause", engine.ErrNotFound)

	err := h.c.PauseDownload(context.Background(), g.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Equal(t, model.StatusDownloading, h.c.Status(g.ID))
}

func TestResume_BringsPausedGameToForeground(t *testing.T) {
	h := newHarness(t)
	first := h.startDownloading(t, "100")
	second := h.startDownloading(t, "200")

	require.NoError(t, h.c.ResumeDownload(context.Background(), first.ID))
	assert.Equal(t, model.StatusDownloading, h.c.Status(first.ID))
	assert.Equal(t, model.StatusPaused, h.c.Status(second.ID))

	fg, _ := h.c.Foreground()
	assert.Equal(t, first.ID, fg)

	h.eng.emit(second.ID, model.StatusDownloading, 900, 1000)
	h.eng.emit(first.ID, model.StatusDownloading, 300, 1000)
	assert.Equal(t, first.ID, h.c.Snapshot().GameID)
}

func TestResume_RestoresVerificationPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.start(t, "100")
	h.eng.emit(first.ID, model.StatusDownloadingMetadata, 0, 0)
	second := h.startDownloading(t, "200")
	require.Equal(t, model.StatusPaused, h.c.Status(first.ID))

	require.NoError(t, h.c.ResumeDownload(ctx, first.ID))
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(first.ID))
	assert.Equal(t, model.StatusPaused, h.c.Status(second.ID))

	h.eng.emit(first.ID, model.StatusDownloadingMetadata, 0, 0)
	v := h.c.Snapshot()
	assert.True(t, v.IsVerifying)
	assert.Empty(t, v.DownloadSpeed)
	assert.Empty(t, v.ETA)

	h.eng.emit(first.ID, model.StatusCheckingFiles, 0, 1000)
	assert.Equal(t, model.StatusCheckingFiles, h.c.Status(first.ID))

	// A checking download pushed back again resumes into checking.
	require.NoError(t, h.c.ResumeDownload(ctx, second.ID))
	require.Equal(t, model.StatusPaused, h.c.Status(first.ID))
	require.NoError(t, h.c.ResumeDownload(ctx, first.ID))
	assert.Equal(t, model.StatusCheckingFiles, h.c.Status(first.ID))
	h.eng.emit(first.ID, model.StatusCheckingFiles, 0, 1000)
	assert.True(t, h.c.Snapshot().IsVerifying)
}

func TestCancel_Idempotent(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")
	ctx := context.Background()

	require.NoError(t, h.c.CancelDownload(ctx, g.ID))
	assert.Equal(t, model.StatusNone, h.c.Status(g.ID))
	assert.False(t, h.c.Snapshot().IsDownloading)

	h.eng.fail("cancel", engine.ErrNotFound)
	require.NoError(t, h.c.CancelDownload(ctx, g.ID))
	assert.Equal(t, model.StatusNone, h.c.Status(g.ID))

	_, ok := h.c.Foreground()
	assert.False(t, ok)
	assert.Zero(t, h.eng.removeCalls.Load(), "cancel alone never removes files")
}

func TestCancel_EngineUnavailablePropagates(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")
	h.eng.fail("cancel", engine.ErrEngineUnavailable)

	err := h.c.CancelDownload(context.Background(), g.ID)
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
	assert.Equal(t, model.StatusDownloading, h.c.Status(g.ID))
}

func TestCancel_WaitsForInFlightStart(t *testing.T) {
	h := newHarness(t)
	entered, release := h.eng.block("start")

	started := make(chan model.Game, 1)
	go func() {
		g, err := h.c.StartDownload(context.Background(), identity("100"))
		assert.NoError(t, err)
		started <- g
	}()
	<-entered

	cancelled := make(chan error, 1)
	go func() { cancelled <- h.c.CancelDownload(context.Background(), 1) }()

	select {
	case <-cancelled:
		t.Fatal("cancel must wait for the in-flight start")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	g := <-started
	require.NoError(t, <-cancelled)

	events := h.eng.log()
	assert.Less(t, slices.Index(events, "start:1:end"), slices.Index(events, "cancel:1:begin"))
	assert.Equal(t, model.StatusNone, h.c.Status(g.ID))
}

func TestCommand_ContextCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t)
	entered, release := h.eng.block("start")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.c.StartDownload(context.Background(), identity("100"))
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := h.c.PauseDownload(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	<-done
}

func TestSupersededSessionPacketsAreIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.startDownloading(t, "100")
	oldSink, oldSession := h.eng.sessionOf(first.ID)

	require.NoError(t, h.c.CancelDownload(context.Background(), first.ID))
	restarted := h.start(t, "100")
	require.Equal(t, first.ID, restarted.ID)

	h.eng.emitAs(oldSink, oldSession, first.ID, model.StatusDownloading, 999, 1000)
	assert.False(t, h.c.Snapshot().IsDownloading)
	assert.Equal(t, model.StatusDownloadingMetadata, h.c.Status(restarted.ID))

	other := h.start(t, "200")
	h.eng.emit(restarted.ID, model.StatusDownloading, 10, 1000)
	h.eng.emit(other.ID, model.StatusCheckingFiles, 0, 1000)
	v := h.c.Snapshot()
	assert.Equal(t, other.ID, v.GameID)
	assert.Equal(t, model.StatusPaused, h.c.Status(restarted.ID))
}

func TestClearDownload(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")

	h.c.ClearDownload()
	assert.False(t, h.c.Snapshot().IsDownloading)
	assert.Equal(t, model.StatusDownloading, h.c.Status(g.ID), "clearing keeps an active session")

	h.eng.emit(g.ID, model.StatusCompleted, 1000, 1000)
	require.Equal(t, model.StatusCompleted, h.c.Status(g.ID))
	h.c.ClearDownload()
	assert.Equal(t, model.StatusNone, h.c.Status(g.ID))
	_, ok := h.c.Foreground()
	assert.False(t, ok)

	again := h.start(t, "100")
	assert.Equal(t, g.ID, again.ID)
}

func TestEngineErrorPacket(t *testing.T) {
	h := newHarness(t)
	g := h.startDownloading(t, "100")

	h.eng.emit(g.ID, model.StatusError, 100, 1000)
	assert.Equal(t, model.StatusError, h.c.Status(g.ID))

	h.c.ClearDownload()
	assert.Equal(t, model.StatusNone, h.c.Status(g.ID))
}

func TestRemoveGameFromLibrary(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.RemoveGameFromLibrary(context.Background(), 5))
	assert.Contains(t, h.eng.log(), "unlist:5:end")

	h.eng.fail("unlist", engine.ErrNotFound)
	err := h.c.RemoveGameFromLibrary(context.Background(), 5)
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestLibraryRefreshFailureIsContained(t *testing.T) {
	h := newHarness(t)
	h.lib.err = errors.New("disk full")

	h.start(t, "100")
	h.c.Close()
	assert.Equal(t, int32(1), h.lib.calls.Load())
	assert.Contains(t, h.out.String(), "update library")
}

func TestSubscribeNotifiesOnPackets(t *testing.T) {
	h := newHarness(t)
	g := h.start(t, "100")
	ch, cancel := h.c.Subscribe()
	defer cancel()

	h.eng.emit(g.ID, model.StatusDownloading, 1, 10)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}
