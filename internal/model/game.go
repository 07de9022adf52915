package model

import (
	"math"
	"time"
)

// GameID identifies a game in the library.
type GameID int64

// Shop is the storefront a game was catalogued from.
type Shop string

const (
	ShopSteam  Shop = "steam"
	ShopEpic   Shop = "epic"
	ShopCustom Shop = "custom"
)

// Identity describes what is being downloaded and where. It is created once
// per start and never mutated afterwards.
type Identity struct {
	RepackID     int64  `json:"repackId"`
	ObjectID     string `json:"objectId"`
	Title        string `json:"title"`
	Shop         Shop   `json:"shop"`
	DownloadPath string `json:"downloadPath"`
	// SessionID tags every packet emitted for this start.
	SessionID string `json:"sessionId,omitempty"`
}

// SameGame reports whether two identities refer to the same catalogue entry.
func (i Identity) SameGame(other Identity) bool {
	return i.ObjectID == other.ObjectID && i.Shop == other.Shop
}

// Game is the per-download session state reported by the engine.
type Game struct {
	ID                       GameID   `json:"id"`
	Identity                 Identity `json:"identity"`
	Status                   Status   `json:"status"`
	BytesDownloaded          int64    `json:"bytesDownloaded"`
	FileSize                 int64    `json:"fileSize"`
	FileVerificationProgress float64  `json:"fileVerificationProgress"`
	Progress                 float64  `json:"progress"`
	// FolderName is the top-level file or directory the torrent writes
	// under DownloadPath, known once metadata arrived.
	FolderName string `json:"folderName,omitempty"`
}

// Unknown marks a remaining time the engine cannot estimate.
const Unknown time.Duration = math.MaxInt64

// Packet is one telemetry sample for the active download.
type Packet struct {
	SessionID     string        `json:"sessionId"`
	Game          Game          `json:"game"`
	DownloadSpeed int64         `json:"downloadSpeed"`
	NumPeers      int           `json:"numPeers"`
	NumSeeds      int           `json:"numSeeds"`
	TimeRemaining time.Duration `json:"timeRemaining"`
}

// ETAKnown reports whether TimeRemaining is a finite estimate.
func (p Packet) ETAKnown() bool {
	return p.TimeRemaining >= 0 && p.TimeRemaining != Unknown
}
