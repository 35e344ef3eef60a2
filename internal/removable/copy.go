package removable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fileutil "ytmusicdl/internal/file"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

// ErrCopyFailure covers every way a copy can fail. The destination is never
// left with a partial file.
var ErrCopyFailure = errors.New("copy failed")

const unknownMIME = "application/octet-stream"

// CopyResult describes a finished copy.
type CopyResult struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	MIME  string `json:"mime"`
}

// CopyToRemovable copies sourcePath into destinationDir under its own base
// name. The copy is all-or-nothing: data goes to a temp file that is renamed
// into place only after it is complete.
func CopyToRemovable(ctx context.Context, sourcePath, destinationDir string) (CopyResult, error) {
	src, err := os.Open(sourcePath) //nolint:gosec // caller-chosen file
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: open source: %w", ErrCopyFailure, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: stat source: %w", ErrCopyFailure, err)
	}
	if info.IsDir() {
		return CopyResult{}, fmt.Errorf("%w: source is a directory", ErrCopyFailure)
	}
	destInfo, err := os.Stat(destinationDir)
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: destination: %w", ErrCopyFailure, err)
	}
	if !destInfo.IsDir() {
		return CopyResult{}, fmt.Errorf("%w: destination is not a directory", ErrCopyFailure)
	}

	destPath := filepath.Join(destinationDir, filepath.Base(sourcePath))
	written, err := fileutil.CopyAtomic(destPath, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return CopyResult{}, fmt.Errorf("%w: %w", ErrCopyFailure, err)
	}

	result := CopyResult{Path: destPath, Bytes: written, MIME: detectMIME(destPath)}
	log.Info().
		Str("source", sourcePath).
		Str("destination", destPath).
		Int64("bytes", written).
		Str("mime", result.MIME).
		Msg("copied to removable storage")
	return result, nil
}

func detectMIME(path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return unknownMIME
	}
	return kind.MIME.Value
}

// ctxReader stops the copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}
	return c.r.Read(p) //nolint:wrapcheck
}
