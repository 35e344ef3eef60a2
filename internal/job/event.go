package job

import "sync"

// Event is one observed change of a job, shaped like the record the UI
// consumes.
type Event struct {
	JobID      string  `json:"id"`
	State      State   `json:"state"`
	Progress   float64 `json:"progress"`
	Speed      string  `json:"speed,omitempty"`
	ETA        string  `json:"eta,omitempty"`
	ResultPath string  `json:"file_path,omitempty"`
	Reason     Reason  `json:"reason,omitempty"`
}

// Status collapses State to the four values the UI knows about.
func (e Event) Status() string {
	return StatusOf(e.State)
}

// StatusOf maps a state onto starting|downloading|completed|error.
func StatusOf(s State) string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "error"
	default:
		return "starting"
	}
}

// Terminal reports whether the event is the last one of its job.
func (e Event) Terminal() bool { return e.State.Terminal() }

func eventOf(j Job) Event {
	return Event{
		JobID:      j.ID,
		State:      j.State,
		Progress:   j.Progress,
		Speed:      j.Speed,
		ETA:        j.ETA,
		ResultPath: j.ResultPath,
		Reason:     j.Reason,
	}
}

// subscriber receives events for one job. Only the job's own goroutine sends,
// so the channel is closed either by it after the terminal event or by the
// observer going away.
type subscriber struct {
	ch   chan Event
	gone chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSubscriber(first Event) *subscriber {
	s := &subscriber{ch: make(chan Event, 1), gone: make(chan struct{})}
	s.ch <- first
	return s
}

// deliver blocks until the observer reads ev or leaves.
func (s *subscriber) deliver(ev Event, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.gone:
	}
	if last {
		close(s.ch)
		s.closed = true
	}
}

func (s *subscriber) leave() {
	close(s.gone)
	s.mu.Lock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	s.mu.Unlock()
}
