// Package downloader implements the transfer engine on top of
// github.com/anacrolix/torrent.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"github.com/accelara/gamedl/internal/engine"
	"github.com/accelara/gamedl/internal/library"
	"github.com/accelara/gamedl/internal/model"
	"github.com/accelara/gamedl/internal/utils"
)

// TorrentEngine runs game downloads in a shared torrent client. Each game
// writes into its own download path.
type TorrentEngine struct {
	opts    Options
	repacks RepackResolver
	library *library.Store
	log     *slog.Logger
	fetch   *http.Client

	mu        sync.Mutex
	client    *torrent.Client
	downloads map[model.GameID]*download
}

type download struct {
	identity model.Identity
	t        *torrent.Torrent
	store    storage.ClientImplCloser
	cancel   context.CancelFunc
	done     chan struct{}
	paused   atomic.Bool
	phase    atomic.Int64
}

var _ engine.Engine = (*TorrentEngine)(nil)

// NewTorrentEngine starts a torrent client configured from opts.
func NewTorrentEngine(opts Options, repacks RepackResolver, lib *library.Store, log *slog.Logger) (*TorrentEngine, error) {
	opts = opts.withDefaults()

	cfg := torrent.NewDefaultClientConfig()
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.ListenPort > 0 {
		cfg.ListenPort = opts.ListenPort
	}
	if opts.BTUploadLimit > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(opts.BTUploadLimit), int(opts.BTUploadLimit))
	}
	if opts.RateLimit > 0 {
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit))
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	e := newEngine(opts, repacks, lib, log)
	e.client = client
	return e, nil
}

func newEngine(opts Options, repacks RepackResolver, lib *library.Store, log *slog.Logger) *TorrentEngine {
	if log == nil {
		log = slog.Default()
	}
	return &TorrentEngine{
		opts:      opts.withDefaults(),
		repacks:   repacks,
		library:   lib,
		log:       log,
		fetch:     &http.Client{Timeout: time.Minute},
		downloads: make(map[model.GameID]*download),
	}
}

// Close drops every torrent and shuts the client down.
func (e *TorrentEngine) Close() {
	e.mu.Lock()
	client := e.client
	e.client = nil
	downloads := e.downloads
	e.downloads = make(map[model.GameID]*download)
	e.mu.Unlock()

	for _, d := range downloads {
		d.stop()
	}
	if client != nil {
		for _, err := range client.Close() {
			e.log.Warn("torrent client close", "error", err)
		}
	}
}

// Start adds the repack's torrent and begins emitting packets to sink.
func (e *TorrentEngine) Start(ctx context.Context, id model.Identity, sink engine.Sink) (model.Game, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return model.Game{}, engine.ErrEngineUnavailable
	}

	src, err := e.repacks.Resolve(id.RepackID)
	if err != nil {
		return model.Game{}, fmt.Errorf("%w: %v", engine.ErrNotFound, err)
	}
	spec, err := e.loadSpec(ctx, src)
	if err != nil {
		return model.Game{}, err
	}

	game, err := e.library.Upsert(id)
	if err != nil {
		return model.Game{}, err
	}
	e.mu.Lock()
	previous := e.downloads[game.ID]
	delete(e.downloads, game.ID)
	e.mu.Unlock()
	if previous != nil {
		previous.stop()
	}

	if err := os.MkdirAll(id.DownloadPath, 0o755); err != nil {
		return model.Game{}, fmt.Errorf("%w: %v", engine.ErrIOFailure, err)
	}
	store := storage.NewFile(id.DownloadPath)
	spec.Storage = store
	t, _, err := client.AddTorrentSpec(spec)
	if err != nil {
		store.Close()
		return model.Game{}, fmt.Errorf("failed to add torrent: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d := &download{identity: id, t: t, store: store, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.downloads[game.ID] = d
	e.mu.Unlock()

	game.Status = model.StatusDownloadingMetadata
	e.persist(game)
	go e.run(runCtx, d, game, sink)

	e.log.Info("torrent added", "game_id", game.ID, "source", src, "path", id.DownloadPath)
	return game, nil
}

func (e *TorrentEngine) loadSpec(ctx context.Context, src string) (*torrent.TorrentSpec, error) {
	var mi *metainfo.MetaInfo
	switch utils.ClassifySource(src) {
	case utils.SourceMagnet:
		spec, err := torrent.TorrentSpecFromMagnetUri(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse magnet: %w", err)
		}
		return spec, nil
	case utils.SourceRemoteFile:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch torrent: %w", err)
		}
		resp, err := e.fetch.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch torrent: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch torrent: status %d", resp.StatusCode)
		}
		mi, err = metainfo.Load(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse torrent: %w", err)
		}
	case utils.SourceLocalFile:
		var err error
		mi, err = metainfo.LoadFromFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse torrent: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported torrent source %q", src)
	}

	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent: %w", err)
	}
	return spec, nil
}

// run samples the torrent until it completes, fails or is stopped.
func (e *TorrentEngine) run(ctx context.Context, d *download, game model.Game, sink engine.Sink) {
	defer close(d.done)

	ticker := time.NewTicker(e.opts.PacketInterval)
	defer ticker.Stop()

	var meter speedMeter
	wait := metadataWait{left: e.opts.MetadataWait}
	prepared := false
	lastStatus := game.Status
	d.phase.Store(int64(game.Status))

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.t.Closed():
			return
		case <-ticker.C:
		}

		if d.paused.Load() {
			meter.reset()
			continue
		}

		if !prepared && d.t.Info() != nil {
			prepared = true
			game.FolderName = d.t.Info().Name
			e.prepare(d.t)
		}
		if !prepared && wait.elapse(e.opts.PacketInterval) {
			game.Status = model.StatusError
			d.phase.Store(int64(game.Status))
			e.persist(game)
			sink.Publish(model.Packet{SessionID: d.identity.SessionID, Game: game, TimeRemaining: model.Unknown})
			e.log.Error("timed out waiting for metadata", "game_id", game.ID)
			return
		}

		s := readSample(d.t)
		p := buildPacket(d.identity, game, s, meter.sample(s.usefulRead, time.Now()))
		game = p.Game
		d.phase.Store(int64(game.Status))
		sink.Publish(p)

		if game.Status != lastStatus {
			lastStatus = game.Status
			e.persist(game)
		}
		if game.Status == model.StatusCompleted {
			e.log.Info("download completed", "game_id", game.ID)
			return
		}
	}
}

func (e *TorrentEngine) prepare(t *torrent.Torrent) {
	t.DownloadAll()
	priority := torrent.PiecePriorityNormal
	if e.opts.BTSequential {
		priority = torrent.PiecePriorityNow
	}
	for _, f := range t.Files() {
		f.SetPriority(priority)
	}
}

func readSample(t *torrent.Torrent) sample {
	stats := t.Stats()
	s := sample{
		usefulRead: stats.BytesReadUsefulData.Int64(),
		peers:      stats.ActivePeers,
		seeds:      stats.ConnectedSeeders,
	}
	info := t.Info()
	if info == nil {
		return s
	}
	s.gotInfo = true
	s.totalBytes = info.TotalLength()
	s.completedBytes = t.BytesCompleted()
	s.pieces = t.NumPieces()
	for i := 0; i < s.pieces; i++ {
		if t.PieceState(i).Checking {
			s.checkingPieces++
		}
	}
	return s
}

func (e *TorrentEngine) lookup(id model.GameID) (*download, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, engine.ErrEngineUnavailable
	}
	d, ok := e.downloads[id]
	if !ok {
		return nil, fmt.Errorf("game %d: %w", id, engine.ErrNotFound)
	}
	return d, nil
}

// Pause stops requesting data for id.
func (e *TorrentEngine) Pause(_ context.Context, id model.GameID) error {
	d, err := e.lookup(id)
	if err != nil {
		return err
	}
	d.t.DisallowDataDownload()
	d.paused.Store(true)
	e.setStatus(id, model.StatusPaused)
	return nil
}

// Resume allows data download for id again.
func (e *TorrentEngine) Resume(_ context.Context, id model.GameID) error {
	d, err := e.lookup(id)
	if err != nil {
		return err
	}
	d.t.AllowDataDownload()
	d.paused.Store(false)
	e.setStatus(id, d.resumePhase())
	return nil
}

// Cancel drops the torrent and waits for its sampler to exit. Unknown ids
// succeed.
func (e *TorrentEngine) Cancel(ctx context.Context, id model.GameID) error {
	e.mu.Lock()
	d, ok := e.downloads[id]
	delete(e.downloads, id)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	d.cancel()
	d.t.Drop()
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := d.store.Close(); err != nil {
		e.log.Warn("close torrent storage", "game_id", id, "error", err)
	}
	e.setStatus(id, model.StatusCancelled)
	return nil
}

// running reports whether id has a live sampler. A download whose sampler
// exited on its own (completed or failed) is released here.
func (e *TorrentEngine) running(id model.GameID) bool {
	e.mu.Lock()
	d, ok := e.downloads[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	if !d.finished() {
		e.mu.Unlock()
		return true
	}
	delete(e.downloads, id)
	e.mu.Unlock()

	if err := d.store.Close(); err != nil {
		e.log.Warn("close torrent storage", "game_id", id, "error", err)
	}
	return false
}

// resumePhase is the status a paused download returns to.
func (d *download) resumePhase() model.Status {
	switch st := model.Status(d.phase.Load()); st {
	case model.StatusDownloadingMetadata, model.StatusCheckingFiles:
		return st
	case model.StatusNone, model.StatusDownloading, model.StatusPaused,
		model.StatusCompleted, model.StatusCancelled, model.StatusError:
	}
	return model.StatusDownloading
}

func (d *download) finished() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *download) stop() {
	d.cancel()
	d.t.Drop()
	<-d.done
	d.store.Close()
}

// RemoveFiles deletes what the torrent wrote under the game's download
// path. Missing files count as removed.
func (e *TorrentEngine) RemoveFiles(_ context.Context, id model.GameID) error {
	if e.running(id) {
		return fmt.Errorf("%w: game %d is still transferring", engine.ErrIOFailure, id)
	}

	game, err := e.library.Get(id)
	if errors.Is(err, library.ErrNotFound) {
		return fmt.Errorf("game %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrIOFailure, err)
	}

	target, ok := installationPath(game)
	if !ok {
		return nil
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrIOFailure, err)
	}
	game.FolderName = ""
	game.BytesDownloaded = 0
	game.Progress = 0
	e.persist(game)
	return nil
}

// installationPath returns the directory or file a game's torrent writes.
func installationPath(g model.Game) (string, bool) {
	name := g.FolderName
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", false
	}
	if g.Identity.DownloadPath == "" {
		return "", false
	}
	return filepath.Join(g.Identity.DownloadPath, name), true
}

// RemoveFromLibrary forgets the catalogue entry for id.
func (e *TorrentEngine) RemoveFromLibrary(_ context.Context, id model.GameID) error {
	err := e.library.Remove(id)
	if errors.Is(err, library.ErrNotFound) {
		return fmt.Errorf("game %d: %w", id, engine.ErrNotFound)
	}
	return err
}

func (e *TorrentEngine) setStatus(id model.GameID, status model.Status) {
	game, err := e.library.Get(id)
	if err != nil {
		e.log.Warn("load game", "game_id", id, "error", err)
		return
	}
	game.Status = status
	e.persist(game)
}

func (e *TorrentEngine) persist(game model.Game) {
	if err := e.library.Save(game); err != nil {
		e.log.Warn("persist game", "game_id", game.ID, "error", err)
	}
}
