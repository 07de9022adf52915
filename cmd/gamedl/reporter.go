package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/accelara/gamedl/internal/model"
	"github.com/accelara/gamedl/internal/progress"
)

// StatusReporter writes throttled JSON status lines.
type StatusReporter struct {
	out        io.Writer
	gameID     model.GameID
	interval   time.Duration
	lastUpdate time.Time
}

type statusLine struct {
	GameID     model.GameID `json:"game_id"`
	Timestamp  int64        `json:"timestamp"`
	Status     string       `json:"status"`
	Progress   string       `json:"progress"`
	Downloaded int64        `json:"downloaded"`
	Total      int64        `json:"total"`
	Speed      string       `json:"speed,omitempty"`
	ETA        string       `json:"eta,omitempty"`
	Peers      int          `json:"peers"`
	Seeds      int          `json:"seeds"`
	Verifying  bool         `json:"verifying"`
	Deleting   bool         `json:"deleting,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// Report writes v unless the previous line is younger than the interval.
// force bypasses the throttle.
func (sr *StatusReporter) Report(status model.Status, v progress.View, deleting, force bool) {
	now := time.Now()
	if !force && now.Sub(sr.lastUpdate) < sr.interval {
		return
	}
	sr.lastUpdate = now

	sr.write(statusLine{
		GameID:     sr.gameID,
		Timestamp:  now.Unix(),
		Status:     status.String(),
		Progress:   v.ProgressLabel,
		Downloaded: v.BytesDownloaded,
		Total:      v.FileSize,
		Speed:      v.DownloadSpeed,
		ETA:        v.ETA,
		Peers:      v.NumPeers,
		Seeds:      v.NumSeeds,
		Verifying:  v.IsVerifying,
		Deleting:   deleting,
	})
}

// Message writes an informational line.
func (sr *StatusReporter) Message(status, message string) {
	sr.write(statusLine{
		GameID:    sr.gameID,
		Timestamp: time.Now().Unix(),
		Status:    status,
		Message:   message,
	})
}

func (sr *StatusReporter) write(line statusLine) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintln(sr.out, string(data))
}
