package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ytget/ytdlp/v2"
)

const videoURLTemplate = "https://www.youtube.com/watch?v=%s"

// ErrNotPlaylist is returned when the URL carries no list= parameter.
var ErrNotPlaylist = errors.New("not a playlist url")

// Entry is one video of an expanded playlist.
type Entry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// PlaylistLister expands playlist URLs into video URLs.
type PlaylistLister struct {
	Timeout time.Duration
	// fetch is replaced in tests.
	fetch func(ctx context.Context, playlistID string) ([]Entry, error)
}

// NewPlaylistLister returns a lister backed by the ytdlp library.
func NewPlaylistLister(timeout time.Duration) *PlaylistLister {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &PlaylistLister{Timeout: timeout, fetch: fetchPlaylist}
}

// List returns the playlist's entries in playlist order.
func (l *PlaylistLister) List(ctx context.Context, url string) ([]Entry, error) {
	playlistID := PlaylistID(url)
	if playlistID == "" {
		return nil, ErrNotPlaylist
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	entries, err := l.fetch(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("%w: playlist %s: %w", ErrProbe, playlistID, err)
	}
	return entries, nil
}

func fetchPlaylist(ctx context.Context, playlistID string) ([]Entry, error) {
	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		entries = append(entries, Entry{
			VideoID: it.VideoID,
			Title:   it.Title,
			URL:     fmt.Sprintf(videoURLTemplate, it.VideoID),
		})
	}
	return entries, nil
}
