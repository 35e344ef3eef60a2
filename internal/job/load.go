package job

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// LoadFromStore brings jobs from a previous run into the registry. Jobs that
// were still queued or running when that run ended are marked failed with
// reason interrupted.
func (m *Manager) LoadFromStore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	now := time.Now().UTC()
	for _, j := range loaded {
		if !j.State.Terminal() {
			j.State = StateFailed
			j.Reason = ReasonInterrupted
			j.Speed = ""
			j.ETA = ""
			finished := now
			j.FinishedAt = &finished
			m.persist(j)
		}
		done := make(chan struct{})
		close(done)
		m.mu.Lock()
		if _, exists := m.jobs[j.ID]; !exists {
			m.jobs[j.ID] = &entry{job: j, ctx: ctx, cancel: func() {}, done: done}
		}
		m.mu.Unlock()
	}
	log.Info().Int("jobs", len(loaded)).Msg("job history loaded")
	return nil
}

// Prune forgets finished jobs older than the retention period and returns
// how many were removed.
func (m *Manager) Prune(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.retention)
	var expired []string
	m.mu.Lock()
	for id, e := range m.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, id := range expired {
			if err := m.store.Delete(context.Background(), id); err != nil {
				log.Warn().Str("job_id", id).Err(err).Msg("delete expired job failed")
			}
		}
	}
	if len(expired) > 0 {
		log.Debug().Int("jobs", len(expired)).Msg("pruned finished jobs")
	}
	return len(expired)
}

// RunJanitor prunes finished jobs every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if m.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}
