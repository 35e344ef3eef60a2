package progress

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexParser(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Update
	}{
		{
			name: "full progress line",
			line: "  45.2% of 3.50MiB at 1.20MiB/s ETA 00:12",
			want: Update{Percent: 45.2, HasPercent: true, Speed: "1.20MiB/s", ETA: "00:12"},
		},
		{
			name: "yt-dlp prefixed line",
			line: "[download]  99.9% of ~  4.01MiB at  512.00KiB/s ETA 01:02:03",
			want: Update{Percent: 99.9, HasPercent: true, Speed: "512.00KiB/s", ETA: "01:02:03"},
		},
		{
			name: "integer percent without speed",
			line: "[download] 100% of 3.50MiB in 00:00:02",
			want: Update{Percent: 100, HasPercent: true},
		},
		{
			name: "unknown speed and eta",
			line: "[download]   0.0% of 3.50MiB at Unknown B/s ETA Unknown",
			want: Update{Percent: 0, HasPercent: true},
		},
		{
			name: "unrelated line",
			line: "[ExtractAudio] Destination: song.mp3",
			want: Update{},
		},
	}

	p := NewRegexParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.line)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Empty(), got.Empty())
		})
	}
}

func TestScanLinesSplitsCarriageReturns(t *testing.T) {
	input := "[download]  10.0%\r[download]  20.0%\r\n\n[ExtractAudio] done\nlast"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(ScanLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		"[download]  10.0%",
		"[download]  20.0%",
		"[ExtractAudio] done",
		"last",
	}, lines)
}
