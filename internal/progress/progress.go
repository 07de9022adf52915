// Package progress derives the user-facing download view from the latest
// telemetry packet. Nothing here is cached: every call recomputes the view.
package progress

import (
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/accelara/gamedl/internal/model"
	"github.com/accelara/gamedl/internal/utils"
)

// maxETA bounds relative time formatting; anything beyond it is treated as
// not representable.
const maxETA = 100 * 365 * 24 * time.Hour

// View is the read model exposed to observers.
type View struct {
	Game            *model.Game
	GameID          model.GameID
	BytesDownloaded int64
	FileSize        int64
	IsVerifying     bool
	IsDownloading   bool
	DownloadSpeed   string
	Progress        float64
	ProgressLabel   string
	NumPeers        int
	NumSeeds        int
	ETA             string
}

// Aggregate builds the view for packet p at wall-clock time now. A nil
// packet yields the idle view.
func Aggregate(p *model.Packet, now time.Time) View {
	if p == nil {
		return View{
			DownloadSpeed: utils.HumanRate(0),
			ProgressLabel: FormatProgress(0),
		}
	}

	game := p.Game
	v := View{
		Game:            &game,
		GameID:          game.ID,
		BytesDownloaded: game.BytesDownloaded,
		FileSize:        game.FileSize,
		IsVerifying:     game.Status.IsVerifying(),
		IsDownloading:   true,
		NumPeers:        p.NumPeers,
		NumSeeds:        p.NumSeeds,
	}

	v.Progress = Progress(game)
	v.ProgressLabel = FormatProgress(v.Progress)

	if !v.IsVerifying {
		v.DownloadSpeed = utils.HumanRate(p.DownloadSpeed)
		if p.ETAKnown() {
			v.ETA = FormatETA(now, p.TimeRemaining)
		}
	}
	return v
}

// Progress returns the completion ratio in [0, 1]. While files are checked
// the verification ratio is reported instead of the byte ratio.
func Progress(g model.Game) float64 {
	if g.Status == model.StatusCheckingFiles {
		return clamp(g.FileVerificationProgress)
	}
	if g.FileSize <= 0 {
		return 0
	}
	return clamp(float64(g.BytesDownloaded) / float64(g.FileSize))
}

// FormatProgress renders a ratio as a percentage with two decimals.
func FormatProgress(ratio float64) string {
	pct := math.Round(clamp(ratio)*10000) / 100
	return strconv.FormatFloat(pct, 'f', 2, 64) + "%"
}

// FormatETA renders remaining as a distance from now ("3 minutes from
// now"). Any value that cannot be rendered yields an empty string.
func FormatETA(now time.Time, remaining time.Duration) (eta string) {
	if remaining < 0 || remaining > maxETA {
		return ""
	}
	defer func() {
		if recover() != nil {
			eta = ""
		}
	}()
	return humanize.RelTime(now.Add(remaining), now, "ago", "from now")
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
