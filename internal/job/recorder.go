package job

import "time"

// Recorder receives lifecycle counters. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	JobSubmitted()
	JobStarted()
	JobFinished(state, reason string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted()                             {}
func (nopRecorder) JobStarted()                               {}
func (nopRecorder) JobFinished(string, string, time.Duration) {}
