package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrProbe is returned when metadata for a URL could not be obtained.
var ErrProbe = errors.New("probe failed")

// Info is the subset of the tool's JSON dump shown before downloading.
type Info struct {
	Title     string `json:"title"`
	Duration  string `json:"duration"`
	Thumbnail string `json:"thumbnail"`
	Uploader  string `json:"uploader"`
}

type rawInfo struct {
	Title          string `json:"title"`
	DurationString string `json:"duration_string"`
	Thumbnail      string `json:"thumbnail"`
	Uploader       string `json:"uploader"`
	Channel        string `json:"channel"`
}

// Probe fetches metadata for url without downloading anything.
func (r *CommandRunner) Probe(ctx context.Context, url string) (Info, error) {
	cmd := exec.CommandContext(ctx, r.Binary, "--dump-single-json", "--no-warnings", "--skip-download", url) //nolint:gosec // binary comes from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Info{}, fmt.Errorf("%w: %w", ErrProbe, err)
		}
		return Info{}, fmt.Errorf("%w: %w: %s", ErrProbe, err, lastLine(msg))
	}
	return decodeInfo(out)
}

func decodeInfo(data []byte) (Info, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return Info{}, fmt.Errorf("%w: decode: %w", ErrProbe, err)
	}
	info := Info{
		Title:     raw.Title,
		Duration:  raw.DurationString,
		Thumbnail: raw.Thumbnail,
		Uploader:  raw.Uploader,
	}
	if info.Uploader == "" {
		info.Uploader = raw.Channel
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	if info.Duration == "" {
		info.Duration = "0:00"
	}
	if info.Uploader == "" {
		info.Uploader = "Unknown"
	}
	return info, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
