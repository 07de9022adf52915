package utils

import "strings"

// SourceKind classifies where torrent metadata comes from.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceMagnet
	SourceRemoteFile
	SourceLocalFile
)

// ClassifySource reports how a torrent source string must be loaded.
func ClassifySource(src string) SourceKind {
	lower := strings.ToLower(strings.TrimSpace(src))
	switch {
	case strings.HasPrefix(lower, "magnet:"):
		return SourceMagnet
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return SourceRemoteFile
	case strings.HasSuffix(lower, ".torrent"):
		return SourceLocalFile
	}
	return SourceUnknown
}

// IsTorrentLike checks if source is a torrent (magnet or .torrent file).
func IsTorrentLike(src string) bool {
	switch ClassifySource(src) {
	case SourceMagnet, SourceLocalFile:
		return true
	case SourceRemoteFile:
		return strings.HasSuffix(strings.ToLower(src), ".torrent")
	}
	return false
}
