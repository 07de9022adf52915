package downloader

import (
	"fmt"
	"time"
)

// RepackResolver maps a repack id to a torrent source: a magnet link, an
// http(s) URL of a .torrent file or a local .torrent path.
type RepackResolver interface {
	Resolve(repackID int64) (string, error)
}

// StaticRepacks is a RepackResolver backed by a map.
type StaticRepacks map[int64]string

// Resolve implements RepackResolver.
func (r StaticRepacks) Resolve(repackID int64) (string, error) {
	src, ok := r[repackID]
	if !ok {
		return "", fmt.Errorf("unknown repack %d", repackID)
	}
	return src, nil
}

// Options contains all engine options.
type Options struct {
	DataDir        string
	ListenPort     int
	RateLimit      int64
	BTUploadLimit  int64
	BTSequential   bool
	PacketInterval time.Duration
	MetadataWait   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PacketInterval <= 0 {
		o.PacketInterval = 500 * time.Millisecond
	}
	if o.MetadataWait <= 0 {
		o.MetadataWait = 10 * time.Minute
	}
	return o
}
