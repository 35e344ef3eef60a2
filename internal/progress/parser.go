// Package progress extracts progress markers from the extraction tool's
// human-readable output. The format is not a contract of the tool and may
// change between its versions, so matching rules live behind Parser.
package progress

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
)

// Update holds whatever a single output line revealed. Zero-valued fields
// mean the corresponding token was absent.
type Update struct {
	Percent    float64
	HasPercent bool
	Speed      string
	ETA        string
}

// Empty reports whether the line carried no recognizable token.
func (u Update) Empty() bool {
	return !u.HasPercent && u.Speed == "" && u.ETA == ""
}

// Parser turns one line of tool output into an Update.
type Parser interface {
	Parse(line string) Update
}

var (
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	speedPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?\s?[KMGTP]?i?B/s)`)
	etaPattern     = regexp.MustCompile(`ETA\s+(\d+:\d{2}(?::\d{2})?)`)
)

// RegexParser matches yt-dlp style lines such as
// "[download]  45.2% of 3.50MiB at 1.20MiB/s ETA 00:12".
type RegexParser struct{}

// NewRegexParser returns the default Parser.
func NewRegexParser() RegexParser { return RegexParser{} }

// Parse implements Parser.
func (RegexParser) Parse(line string) Update {
	var u Update
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if p, err := strconv.ParseFloat(m[1], 64); err == nil {
			u.Percent = p
			u.HasPercent = true
		}
	}
	if m := speedPattern.FindStringSubmatch(line); m != nil {
		u.Speed = m[1]
	}
	if m := etaPattern.FindStringSubmatch(line); m != nil {
		u.ETA = m[1]
	}
	return u
}

// ScanLines is a bufio.SplitFunc that treats both '\n' and '\r' as line
// terminators, since progress bars are redrawn in place with carriage returns.
// Empty lines are skipped.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	if atEOF && start == len(data) {
		return start, nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	// request more data, but consume the leading terminators already seen
	return start, nil, nil
}

var _ bufio.SplitFunc = ScanLines
