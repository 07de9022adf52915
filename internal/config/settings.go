// Package config loads runtime settings from a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/accelara/gamedl/internal/utils"
)

// Settings holds all runtime configuration.
type Settings struct {
	DownloadDir    string
	LibraryPath    string
	ListenPort     int
	DownloadLimit  int64
	UploadLimit    int64
	Sequential     bool
	PacketInterval time.Duration
	HLTBRate       float64
}

// Default returns settings rooted in the user's download directory.
func Default() Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Settings{
		DownloadDir:    filepath.Join(home, "Downloads", "gamedl"),
		LibraryPath:    filepath.Join(home, ".gamedl", "library.db"),
		PacketInterval: 500 * time.Millisecond,
		HLTBRate:       1,
	}
}

// Load reads envFile (missing files are ignored) and applies GAMEDL_*
// variables on top of the defaults. Variables already set in the process
// environment win over the file.
func Load(envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	s := Default()
	if v, ok := os.LookupEnv("GAMEDL_DOWNLOAD_DIR"); ok && v != "" {
		s.DownloadDir = v
	}
	if v, ok := os.LookupEnv("GAMEDL_LIBRARY_PATH"); ok && v != "" {
		s.LibraryPath = v
	}

	var err error
	if s.ListenPort, err = intEnv("GAMEDL_LISTEN_PORT", s.ListenPort); err != nil {
		return Settings{}, err
	}
	if s.DownloadLimit, err = sizeEnv("GAMEDL_DOWNLOAD_LIMIT", s.DownloadLimit); err != nil {
		return Settings{}, err
	}
	if s.UploadLimit, err = sizeEnv("GAMEDL_UPLOAD_LIMIT", s.UploadLimit); err != nil {
		return Settings{}, err
	}
	if v, ok := os.LookupEnv("GAMEDL_SEQUENTIAL"); ok && v != "" {
		if s.Sequential, err = strconv.ParseBool(v); err != nil {
			return Settings{}, fmt.Errorf("GAMEDL_SEQUENTIAL: %w", err)
		}
	}
	if v, ok := os.LookupEnv("GAMEDL_PACKET_INTERVAL"); ok && v != "" {
		if s.PacketInterval, err = time.ParseDuration(v); err != nil {
			return Settings{}, fmt.Errorf("GAMEDL_PACKET_INTERVAL: %w", err)
		}
	}
	if v, ok := os.LookupEnv("GAMEDL_HLTB_RATE"); ok && v != "" {
		if s.HLTBRate, err = strconv.ParseFloat(v, 64); err != nil {
			return Settings{}, fmt.Errorf("GAMEDL_HLTB_RATE: %w", err)
		}
	}
	return s, s.Validate()
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.DownloadDir == "" {
		return fmt.Errorf("download directory is required")
	}
	if s.LibraryPath == "" {
		return fmt.Errorf("library path is required")
	}
	if s.ListenPort < 0 || s.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", s.ListenPort)
	}
	if s.PacketInterval <= 0 {
		return fmt.Errorf("packet interval must be positive")
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func sizeEnv(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := utils.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
