package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var sizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([kKmMgGtT]?[bB]?)?\s*$`)

// ParseBytes parses a byte size string like "4MB", "500KB", "2GB".
// Units are binary multiples.
func ParseBytes(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size: %s", s)
	}

	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	multiplier := int64(1)
	switch strings.ToLower(matches[2]) {
	case "k", "kb":
		multiplier = humanize.KiByte
	case "m", "mb":
		multiplier = humanize.MiByte
	case "g", "gb":
		multiplier = humanize.GiByte
	case "t", "tb":
		multiplier = humanize.TiByte
	}

	return int64(val * float64(multiplier)), nil
}

// HumanBytes converts bytes to a human-readable size. Negative input is
// treated as zero.
func HumanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// HumanRate formats a bytes-per-second figure.
func HumanRate(bytesPerSec int64) string {
	return HumanBytes(bytesPerSec) + "/s"
}
