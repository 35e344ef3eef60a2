package job

import (
	"time"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/progress"
)

// State is the lifecycle position of a job.
type State string

const (
	StateQueued      State = "queued"
	StateStarting    State = "starting"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Reason explains a failed job.
type Reason string

const (
	ReasonSpawnFailed      Reason = "spawn_failed"
	ReasonExtractionFailed Reason = "extraction_failed"
	ReasonCancelled        Reason = "cancelled"
	ReasonInterrupted      Reason = "interrupted"
)

// Request is what a caller asks to download. It never changes after Submit.
type Request struct {
	SourceURL string            `json:"source_url"`
	Directory string            `json:"directory"`
	Quality   extractor.Quality `json:"quality"`
}

// Job is a point-in-time copy of a supervised download.
type Job struct {
	ID         string     `json:"id"`
	Request    Request    `json:"request"`
	State      State      `json:"state"`
	Progress   float64    `json:"progress"`
	Speed      string     `json:"speed,omitempty"`
	ETA        string     `json:"eta,omitempty"`
	ResultPath string     `json:"result_path,omitempty"`
	Reason     Reason     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Err returns the sentinel error matching the job's failure reason, or nil.
func (j Job) Err() error {
	if j.State != StateFailed {
		return nil
	}
	switch j.Reason {
	case ReasonSpawnFailed:
		return ErrProcessSpawn
	case ReasonCancelled:
		return ErrCancelled
	case ReasonInterrupted:
		return ErrInterrupted
	default:
		return ErrExtraction
	}
}

// Options configure a Manager.
type Options struct {
	DefaultDir        string
	AllowedHosts      []string
	MaxConcurrentJobs int
	// Retention is how long finished jobs stay queryable. Zero keeps them forever.
	Retention time.Duration

	Runner   extractor.Runner
	Parser   progress.Parser
	Store    Store
	Recorder Recorder
}

const defaultMaxConcurrent = 3
