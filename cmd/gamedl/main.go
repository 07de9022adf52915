package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/accelara/gamedl/internal/config"
	"github.com/accelara/gamedl/internal/downloader"
	"github.com/accelara/gamedl/internal/hltb"
	"github.com/accelara/gamedl/internal/library"
	"github.com/accelara/gamedl/internal/logger"
	"github.com/accelara/gamedl/internal/model"
	"github.com/accelara/gamedl/internal/session"
	"github.com/accelara/gamedl/internal/utils"
)

func main() {
	var (
		envFile        = flag.String("env", ".env", "Path to a .env file")
		source         = flag.String("source", "", "Magnet link, .torrent URL or .torrent file (required)")
		repackID       = flag.Int64("repack-id", 1, "Repack id the source belongs to")
		objectID       = flag.String("object-id", "", "Store object id of the game")
		title          = flag.String("title", "", "Game title")
		shop           = flag.String("shop", string(model.ShopCustom), "Shop: steam, epic or custom")
		output         = flag.String("output", "", "Download directory")
		limit          = flag.String("limit", "", "Download rate limit")
		btUploadLimit  = flag.String("bt-upload-limit", "", "Upload rate limit for BitTorrent")
		btSequential   = flag.Bool("bt-sequential", false, "Download files sequentially")
		btPort         = flag.Int("bt-port", 0, "BitTorrent listen port (0 = use default/auto)")
		deleteOnCancel = flag.Bool("delete-on-cancel", false, "Remove downloaded files when interrupted")
		lookup         = flag.String("hltb", "", "Look up completion times for a game title and exit")
	)
	flag.Parse()

	log := logger.New(logger.LoadConfig())

	settings, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *lookup != "" {
		if err := runLookup(ctx, settings, *lookup); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *source == "" {
		if len(flag.Args()) > 0 {
			*source = flag.Args()[0]
		} else {
			fmt.Fprintf(os.Stderr, "Error: source is required\n")
			os.Exit(1)
		}
	}
	if *output != "" {
		settings.DownloadDir = *output
	}
	if *btPort != 0 {
		settings.ListenPort = *btPort
	}
	if *btSequential {
		settings.Sequential = true
	}
	if settings.DownloadLimit, err = overrideSize(*limit, settings.DownloadLimit); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing limit: %v\n", err)
		os.Exit(1)
	}
	if settings.UploadLimit, err = overrideSize(*btUploadLimit, settings.UploadLimit); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing bt-upload-limit: %v\n", err)
		os.Exit(1)
	}

	downloadDir, err := filepath.Abs(settings.DownloadDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving output path: %v\n", err)
		os.Exit(1)
	}

	identity := model.Identity{
		RepackID:     *repackID,
		ObjectID:     *objectID,
		Title:        *title,
		Shop:         model.Shop(*shop),
		DownloadPath: downloadDir,
	}
	if identity.ObjectID == "" {
		identity.ObjectID = *source
	}
	if identity.Title == "" {
		identity.Title = identity.ObjectID
	}

	if err := run(ctx, log, settings, identity, *source, *deleteOnCancel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func overrideSize(flagValue string, current int64) (int64, error) {
	if flagValue == "" {
		return current, nil
	}
	return utils.ParseBytes(flagValue)
}

func run(ctx context.Context, log *slog.Logger, settings config.Settings, identity model.Identity, source string, deleteOnCancel bool) error {
	if err := os.MkdirAll(filepath.Dir(settings.LibraryPath), 0o755); err != nil {
		return err
	}
	lib, err := library.Open(settings.LibraryPath)
	if err != nil {
		return err
	}
	defer lib.Close()

	eng, err := downloader.NewTorrentEngine(downloader.Options{
		DataDir:        identity.DownloadPath,
		ListenPort:     settings.ListenPort,
		RateLimit:      settings.DownloadLimit,
		BTUploadLimit:  settings.UploadLimit,
		BTSequential:   settings.Sequential,
		PacketInterval: settings.PacketInterval,
	}, downloader.StaticRepacks{identity.RepackID: source}, lib, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	coord := session.New(eng, lib, session.Options{Logger: log})
	defer coord.Close()

	updates, unsubscribe := coord.Subscribe()
	defer unsubscribe()

	game, err := coord.StartDownload(ctx, identity)
	if err != nil {
		return err
	}
	reporter := &StatusReporter{out: os.Stdout, gameID: game.ID, interval: 100 * time.Millisecond}

	for {
		select {
		case <-ctx.Done():
			return shutdown(coord, reporter, game.ID, deleteOnCancel)
		case <-updates:
		}

		status := coord.Status(game.ID)
		reporter.Report(status, coord.Snapshot(), coord.IsGameDeleting(game.ID), status != model.StatusDownloading)
		switch status {
		case model.StatusCompleted:
			coord.ClearDownload()
			reporter.Message("completed", "Download completed successfully")
			return nil
		case model.StatusError:
			coord.ClearDownload()
			return fmt.Errorf("download of %q failed", identity.Title)
		case model.StatusNone, model.StatusDownloadingMetadata, model.StatusCheckingFiles,
			model.StatusDownloading, model.StatusPaused, model.StatusCancelled:
		}
	}
}

func shutdown(coord *session.Coordinator, reporter *StatusReporter, id model.GameID, deleteFiles bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if deleteFiles {
		reporter.Message("deleting", "Download stopped by user, removing files")
		coord.DeleteGame(ctx, id)
		return nil
	}
	reporter.Message("stopped", "Download stopped by user. Resume supported.")
	return coord.CancelDownload(ctx, id)
}

func runLookup(ctx context.Context, settings config.Settings, name string) error {
	client := hltb.NewClient(hltb.DefaultBaseURL, settings.HLTBRate)
	found, err := client.Search(ctx, name)
	if err != nil {
		return err
	}
	if len(found.Data) == 0 {
		return fmt.Errorf("no results for %q", name)
	}
	categories, err := client.Game(ctx, fmt.Sprint(found.Data[0].GameID))
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(categories)
}
