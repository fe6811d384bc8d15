package broadcast

import (
	"fmt"
	"time"

	kit "pepperbot/internal/transport"
	logx "pepperbot/pkg/logx"
)

// Submit queues a job and returns its id. The status entry exists even when
// the job is rejected, marked as fully failed.
func (s *Service) Submit(name string, targets []kit.ChatTarget, text string, opt *kit.SendOptions) (string, error) {
	now := time.Now()
	id := fmt.Sprintf("bc:%d", now.UnixNano())
	s.pruneStatus(now)

	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Name: name, Total: len(targets), CreatedAt: now}
	s.statusMu.Unlock()

	if !s.running() {
		s.reject(id)
		return id, ErrNotRunning
	}
	select {
	case s.queue <- job{id: id, name: name, targets: targets, text: text, opt: opt}:
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", name), logx.Int("total", len(targets)), logx.Int("queue_len", len(s.queue)))
		return id, nil
	default:
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.String("name", name), logx.Int("queue_cap", cap(s.queue)))
		s.reject(id)
		return id, ErrQueueFull
	}
}

func (s *Service) reject(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.DoneAt = time.Now()
		st.Failed = st.Total
	}
}

// Status returns a copy of the job status.
func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	cp := *st
	if len(st.Failures) > 0 {
		cp.Failures = append([]kit.ChatTarget(nil), st.Failures...)
	}
	return cp, true
}
