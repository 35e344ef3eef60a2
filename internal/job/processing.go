package job

import (
	"bufio"
	"io"
	"strings"
	"time"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/progress"

	"github.com/rs/zerolog/log"
)

const (
	stderrTailLines = 20
	maxLineBytes    = 1 << 20
)

// run is the per-job reactor: wait for a slot, spawn, read progress, settle.
func (m *Manager) run(e *entry) {
	defer m.workersWG.Done()
	defer e.cancel()

	select {
	case m.semaphore <- struct{}{}:
	case <-e.ctx.Done():
		m.finishStopped(e)
		return
	}
	defer func() { <-m.semaphore }()

	// cancelled while the slot was being handed over
	if e.ctx.Err() != nil {
		m.finishStopped(e)
		return
	}

	m.update(e, func(j *Job) bool {
		now := time.Now().UTC()
		j.State = StateStarting
		j.StartedAt = &now
		return true
	})
	m.recorder.JobStarted()

	req := e.job.Request
	proc, err := m.runner.Start(e.ctx, extractor.Invocation{
		URL:       req.SourceURL,
		Directory: req.Directory,
		Quality:   req.Quality,
	})
	if err != nil {
		if e.ctx.Err() != nil {
			m.finishStopped(e)
			return
		}
		log.Error().Str("job_id", e.job.ID).Err(err).Msg("spawn extractor failed")
		m.finish(e, func(j *Job) {
			j.State = StateFailed
			j.Reason = ReasonSpawnFailed
		})
		return
	}

	tailCh := make(chan []string, 1)
	go func() { tailCh <- drainTail(proc.Diagnostics(), stderrTailLines) }()

	m.consume(e, proc.Output())
	tail := <-tailCh
	waitErr := proc.Wait()

	m.finish(e, func(j *Job) {
		switch {
		// cancellation wins even if the process managed to exit cleanly
		case e.cancelRequested:
			j.State = StateFailed
			j.Reason = ReasonCancelled
		case waitErr == nil:
			j.State = StateCompleted
			j.Progress = 100
			j.ResultPath = j.Request.Directory
		case e.ctx.Err() != nil:
			j.State = StateFailed
			j.Reason = ReasonInterrupted
		default:
			j.State = StateFailed
			j.Reason = ReasonExtractionFailed
			log.Warn().
				Str("job_id", j.ID).
				Err(waitErr).
				Str("stderr", strings.Join(tail, "\n")).
				Msg("extractor exited with error")
		}
	})
}

// consume reads tool output until EOF, publishing every recognized update.
func (m *Manager) consume(e *entry, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(progress.ScanLines)
	for scanner.Scan() {
		u := m.parser.Parse(scanner.Text())
		if u.Empty() {
			continue
		}
		m.update(e, func(j *Job) bool { return applyUpdate(j, u) })
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Str("job_id", e.job.ID).Err(err).Msg("read extractor output")
		// keep the pipe flowing so the process can exit
		_, _ = io.Copy(io.Discard, r)
	}
}

// applyUpdate folds a parsed line into j and reports whether anything changed.
func applyUpdate(j *Job, u progress.Update) bool {
	changed := false
	if u.HasPercent {
		if p := clampPercent(u.Percent); p > j.Progress {
			j.Progress = p
			changed = true
		}
		if j.State == StateStarting {
			j.State = StateDownloading
			changed = true
		}
	}
	if u.Speed != "" && u.Speed != j.Speed {
		j.Speed = u.Speed
		changed = true
	}
	if u.ETA != "" && u.ETA != j.ETA {
		j.ETA = u.ETA
		changed = true
	}
	return changed
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// update mutates the job under lock and delivers the resulting event.
func (m *Manager) update(e *entry, mutate func(j *Job) bool) {
	m.mu.Lock()
	before := e.job.State
	if !mutate(&e.job) {
		m.mu.Unlock()
		return
	}
	snapshot := e.job
	subs := e.subscribers()
	m.mu.Unlock()

	if snapshot.State != before {
		m.persist(snapshot)
		log.Debug().Str("job_id", snapshot.ID).Str("state", string(snapshot.State)).Msg("job state changed")
	}
	ev := eventOf(snapshot)
	for _, s := range subs {
		s.deliver(ev, false)
	}
}

// finishStopped ends a job whose context was cancelled before its process ran.
func (m *Manager) finishStopped(e *entry) {
	m.finish(e, func(j *Job) {
		j.State = StateFailed
		if e.cancelRequested {
			j.Reason = ReasonCancelled
		} else {
			j.Reason = ReasonInterrupted
		}
	})
}

// finish applies the terminal transition, hands the last event to every
// observer and closes their streams.
func (m *Manager) finish(e *entry, decide func(j *Job)) {
	m.mu.Lock()
	decide(&e.job)
	now := time.Now().UTC()
	e.job.FinishedAt = &now
	e.job.Speed = ""
	e.job.ETA = ""
	snapshot := e.job
	subs := e.subscribers()
	e.subs = nil
	m.mu.Unlock()

	m.persist(snapshot)
	started := snapshot.CreatedAt
	if snapshot.StartedAt != nil {
		started = *snapshot.StartedAt
	}
	m.recorder.JobFinished(string(snapshot.State), string(snapshot.Reason), now.Sub(started))
	log.Info().
		Str("job_id", snapshot.ID).
		Str("state", string(snapshot.State)).
		Str("reason", string(snapshot.Reason)).
		Msg("job finished")

	ev := eventOf(snapshot)
	for _, s := range subs {
		s.deliver(ev, true)
	}
	close(e.done)
}

func (e *entry) subscribers() []*subscriber {
	subs := make([]*subscriber, 0, len(e.subs))
	for s := range e.subs {
		subs = append(subs, s)
	}
	return subs
}

// drainTail reads r to EOF and returns its last n lines.
func drainTail(r io.Reader, n int) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(progress.ScanLines)
	tail := make([]string, 0, n)
	for scanner.Scan() {
		if len(tail) == n {
			tail = tail[1:]
		}
		tail = append(tail, scanner.Text())
	}
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return tail
}
