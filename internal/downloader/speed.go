package downloader

import (
	"time"

	"github.com/accelara/gamedl/internal/model"
)

// speedSamples is the number of instant rates averaged together.
const speedSamples = 10

// speedMeter turns a cumulative byte counter into a smoothed rate. A
// stalled connection keeps reporting the last non-zero rate.
type speedMeter struct {
	lastBytes int64
	lastTime  time.Time
	history   []int64
	lastValid int64
}

// sample feeds the cumulative counter read at now and returns the smoothed
// bytes per second.
func (m *speedMeter) sample(total int64, now time.Time) int64 {
	defer func() {
		m.lastBytes = total
		m.lastTime = now
	}()

	if m.lastTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(m.lastTime).Seconds()
	delta := total - m.lastBytes
	if elapsed <= 0 || delta < 0 {
		return m.lastValid
	}

	instant := int64(float64(delta) / elapsed)
	if instant == 0 {
		return m.lastValid
	}

	m.history = append(m.history, instant)
	if len(m.history) > speedSamples {
		m.history = m.history[1:]
	}
	var sum int64
	for _, s := range m.history {
		sum += s
	}
	m.lastValid = sum / int64(len(m.history))
	return m.lastValid
}

// reset forgets the rate history, used after a pause.
func (m *speedMeter) reset() {
	*m = speedMeter{}
}

// metadataWait is the active time a torrent may spend without metadata.
// Ticks skipped while paused do not count.
type metadataWait struct {
	left time.Duration
}

// elapse consumes step and reports whether the budget is spent.
func (w *metadataWait) elapse(step time.Duration) bool {
	w.left -= step
	return w.left <= 0
}

// estimateRemaining returns the time needed to fetch the missing bytes at
// rate, or model.Unknown when the rate is zero.
func estimateRemaining(completed, total, rate int64) time.Duration {
	if total <= 0 || completed >= total {
		return 0
	}
	if rate <= 0 {
		return model.Unknown
	}
	secs := float64(total-completed) / float64(rate)
	if secs >= float64(model.Unknown/time.Second) {
		return model.Unknown
	}
	return time.Duration(secs * float64(time.Second))
}

// sample is one reading of a torrent's counters.
type sample struct {
	totalBytes     int64
	completedBytes int64
	usefulRead     int64
	pieces         int
	checkingPieces int
	peers          int
	seeds          int
	gotInfo        bool
}

// phase classifies a sample into a lifecycle status.
func (s sample) phase() model.Status {
	switch {
	case !s.gotInfo:
		return model.StatusDownloadingMetadata
	case s.checkingPieces > 0:
		return model.StatusCheckingFiles
	case s.totalBytes > 0 && s.completedBytes >= s.totalBytes:
		return model.StatusCompleted
	}
	return model.StatusDownloading
}

// verification returns the share of pieces no longer waiting for a hash
// check.
func (s sample) verification() float64 {
	if s.pieces == 0 {
		return 0
	}
	return float64(s.pieces-s.checkingPieces) / float64(s.pieces)
}

// buildPacket converts a sample into the packet published to the sink.
func buildPacket(id model.Identity, game model.Game, s sample, rate int64) model.Packet {
	game.Status = s.phase()
	game.BytesDownloaded = s.completedBytes
	game.FileSize = s.totalBytes
	game.FileVerificationProgress = s.verification()
	if s.totalBytes > 0 {
		game.Progress = float64(s.completedBytes) / float64(s.totalBytes)
	}

	remaining := model.Unknown
	if game.Status == model.StatusDownloading || game.Status == model.StatusCompleted {
		remaining = estimateRemaining(s.completedBytes, s.totalBytes, rate)
	}

	return model.Packet{
		SessionID:     id.SessionID,
		Game:          game,
		DownloadSpeed: rate,
		NumPeers:      s.peers,
		NumSeeds:      s.seeds,
		TimeRemaining: remaining,
	}
}
