package extractor

import (
	"fmt"
	"strings"
)

// Quality selects the bitrate/format tier of the extracted audio.
type Quality string

const (
	QualityHigh     Quality = "high"
	QualityMedium   Quality = "medium"
	QualityLossless Quality = "lossless"
)

// ParseQuality accepts the canonical names plus the labels used by the
// desktop shells ("320", "256", "flac"). Empty input selects QualityHigh.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "high", "320", "mp3":
		return QualityHigh, nil
	case "medium", "256":
		return QualityMedium, nil
	case "lossless", "flac":
		return QualityLossless, nil
	default:
		return "", fmt.Errorf("unknown quality %q", s)
	}
}

// Args returns the tool flags for q.
func (q Quality) Args() []string {
	switch q {
	case QualityMedium:
		return []string{"--audio-format", "mp3", "--audio-quality", "2"}
	case QualityLossless:
		return []string{"--audio-format", "flac"}
	default:
		return []string{"--audio-format", "mp3", "--audio-quality", "0"}
	}
}

// Label is the short form shown in the UI.
func (q Quality) Label() string {
	switch q {
	case QualityMedium:
		return "256kbps MP3"
	case QualityLossless:
		return "FLAC"
	default:
		return "320kbps MP3"
	}
}
