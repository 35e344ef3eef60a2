package job

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ytmusicdl/internal/extractor"
	fileutil "ytmusicdl/internal/file"
	"ytmusicdl/internal/progress"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager supervises download jobs: it admits them under a concurrency cap,
// runs one extraction process per job and fans state changes out to observers.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	baseCtx   context.Context
	workersWG sync.WaitGroup
	semaphore chan struct{}

	defaultDir string
	hosts      []string
	retention  time.Duration
	runner     extractor.Runner
	parser     progress.Parser
	store      Store
	recorder   Recorder
}

// entry is the registry record of a job. All fields are guarded by Manager.mu.
type entry struct {
	job             Job
	cancel          context.CancelFunc
	ctx             context.Context
	cancelRequested bool
	subs            map[*subscriber]struct{}
	// done is closed once the terminal event has been handed to every observer.
	done chan struct{}
}

// NewManager creates a manager. Nil collaborators get working defaults and a
// nil Store disables persistence.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = defaultMaxConcurrent
	}
	if len(opts.AllowedHosts) == 0 {
		opts.AllowedHosts = []string{"youtube.com", "youtu.be"}
	}
	if opts.Runner == nil {
		opts.Runner = extractor.NewCommandRunner("", 0)
	}
	if opts.Parser == nil {
		opts.Parser = progress.NewRegexParser()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Manager{
		jobs:       make(map[string]*entry),
		baseCtx:    context.Background(),
		semaphore:  make(chan struct{}, opts.MaxConcurrentJobs),
		defaultDir: opts.DefaultDir,
		hosts:      opts.AllowedHosts,
		retention:  opts.Retention,
		runner:     opts.Runner,
		parser:     opts.Parser,
		store:      opts.Store,
		recorder:   opts.Recorder,
	}
}

// Submit validates req, registers a queued job and returns its id without
// waiting for the download to start.
func (m *Manager) Submit(req Request) (string, error) {
	normalized, err := m.normalizeRequest(req)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	jobID := uuid.NewString()
	for _, exists := m.jobs[jobID]; exists; _, exists = m.jobs[jobID] {
		jobID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	e := &entry{
		job: Job{
			ID:        jobID,
			Request:   normalized,
			State:     StateQueued,
			CreatedAt: time.Now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
	}
	m.jobs[jobID] = e
	snapshot := e.job
	m.workersWG.Add(1)
	m.mu.Unlock()

	m.recorder.JobSubmitted()
	m.persist(snapshot)
	log.Info().
		Str("job_id", jobID).
		Str("url", normalized.SourceURL).
		Str("quality", string(normalized.Quality)).
		Msg("job queued")

	go m.run(e)
	return jobID, nil
}

func (m *Manager) normalizeRequest(req Request) (Request, error) {
	sourceURL, err := extractor.ValidateURL(req.SourceURL, m.hosts)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	dir, quality, err := m.normalizeTarget(req.Directory, req.Quality)
	if err != nil {
		return Request{}, err
	}
	return Request{SourceURL: sourceURL, Directory: dir, Quality: quality}, nil
}

// ValidateTarget checks a directory and quality the way Submit would, so
// callers submitting a batch can fail before doing any expensive work.
func (m *Manager) ValidateTarget(directory string, quality extractor.Quality) error {
	_, _, err := m.normalizeTarget(directory, quality)
	return err
}

func (m *Manager) normalizeTarget(directory string, q extractor.Quality) (string, extractor.Quality, error) {
	quality, err := extractor.ParseQuality(string(q))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	dir := strings.TrimSpace(directory)
	if dir == "" {
		dir = m.defaultDir
	}
	if dir == "" {
		return "", "", fmt.Errorf("%w: no download directory", ErrInvalidInput)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := fileutil.EnsureWritableDir(dir); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return dir, quality, nil
}

// Observe streams the job's current snapshot followed by every later change.
// The channel is closed after the terminal event or when ctx ends.
func (m *Manager) Observe(ctx context.Context, jobID string) (<-chan Event, error) {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrJobNotFound
	}
	sub := newSubscriber(eventOf(e.job))
	if e.job.State.Terminal() {
		m.mu.Unlock()
		sub.leave()
		return sub.ch, nil
	}
	e.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			delete(e.subs, sub)
			m.mu.Unlock()
			sub.leave()
		case <-e.done:
		}
	}()
	return sub.ch, nil
}

// Cancel stops a job. A queued job fails without ever spawning; a running
// one has its process interrupted. Either way it ends as failed/cancelled.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if e.job.State.Terminal() {
		m.mu.Unlock()
		return ErrJobFinished
	}
	e.cancelRequested = true
	state := e.job.State
	m.mu.Unlock()

	e.cancel()
	log.Info().Str("job_id", jobID).Str("state", string(state)).Msg("job cancel requested")
	return nil
}

// Get returns a snapshot of a job.
func (m *Manager) Get(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List returns snapshots of all known jobs, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, e.job)
	}
	m.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// ActiveCount returns the number of jobs that have not reached a terminal state.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.jobs {
		if !e.job.State.Terminal() {
			n++
		}
	}
	return n
}

// IsBusy reports whether every admission slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// DefaultDir is where jobs without an explicit directory are saved.
func (m *Manager) DefaultDir() string { return m.defaultDir }

// SetBaseContext sets the context every job derives from. Cancelling it
// interrupts all jobs; it is meant to be set once at startup.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all job goroutines finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) persist(j Job) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.Background(), j); err != nil { // best-effort
		log.Warn().Str("job_id", j.ID).Str("state", string(j.State)).Err(err).Msg("persist job failed")
	}
}
