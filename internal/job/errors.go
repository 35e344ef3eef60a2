package job

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrProcessSpawn = errors.New("process spawn failed")
	ErrExtraction   = errors.New("extraction failed")
	ErrCancelled    = errors.New("job cancelled")
	ErrInterrupted  = errors.New("job interrupted by shutdown")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobFinished  = errors.New("job already finished")
)
