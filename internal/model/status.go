package model

import "fmt"

// Status is the lifecycle state of a tracked download.
type Status int

const (
	// StatusNone means no session is tracked.
	StatusNone Status = iota
	// StatusDownloadingMetadata means the engine is fetching torrent metadata.
	StatusDownloadingMetadata
	// StatusCheckingFiles means existing data is being verified.
	StatusCheckingFiles
	// StatusDownloading means data is being transferred.
	StatusDownloading
	// StatusPaused means the transfer was paused by the user.
	StatusPaused
	// StatusCompleted means every byte has been received.
	StatusCompleted
	// StatusCancelled means the user cancelled the download.
	StatusCancelled
	// StatusError means the engine reported a failure.
	StatusError
)

var statusNames = [...]string{
	StatusNone:                "",
	StatusDownloadingMetadata: "downloading_metadata",
	StatusCheckingFiles:       "checking_files",
	StatusDownloading:         "downloading",
	StatusPaused:              "paused",
	StatusCompleted:           "completed",
	StatusCancelled:           "cancelled",
	StatusError:               "error",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a wire name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusNone, fmt.Errorf("unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsVerifying reports whether speed and ETA figures are meaningless in this
// phase (metadata fetch or file check).
func (s Status) IsVerifying() bool {
	switch s {
	case StatusDownloadingMetadata, StatusCheckingFiles:
		return true
	case StatusNone, StatusDownloading, StatusPaused, StatusCompleted, StatusCancelled, StatusError:
		return false
	}
	return false
}

// IsActive reports whether the download can still be cancelled.
func (s Status) IsActive() bool {
	switch s {
	case StatusDownloadingMetadata, StatusCheckingFiles, StatusDownloading, StatusPaused:
		return true
	case StatusNone, StatusCompleted, StatusCancelled, StatusError:
		return false
	}
	return false
}

// IsTransferring reports whether the engine may be writing files.
func (s Status) IsTransferring() bool {
	return s.IsActive() && s != StatusPaused
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Verifying phases may move to paused only when a newer start pushes
// the download into the background, and resuming returns to that phase.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNone:
		return next == StatusDownloadingMetadata
	case StatusDownloadingMetadata:
		return next == StatusCheckingFiles || next == StatusDownloading || next == StatusPaused ||
			next == StatusCancelled || next == StatusError
	case StatusCheckingFiles:
		return next == StatusDownloading || next == StatusPaused ||
			next == StatusCancelled || next == StatusError
	case StatusDownloading:
		return next == StatusPaused || next == StatusCompleted || next == StatusCheckingFiles ||
			next == StatusCancelled || next == StatusError
	case StatusPaused:
		return next == StatusDownloading || next == StatusDownloadingMetadata || next == StatusCheckingFiles ||
			next == StatusCancelled || next == StatusError
	case StatusCompleted, StatusCancelled, StatusError:
		return next == StatusNone
	}
	return false
}
