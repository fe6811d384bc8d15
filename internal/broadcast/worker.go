package broadcast

import (
	"context"
	"time"

	kit "pepperbot/internal/transport"
	logx "pepperbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.update(j.id, func(st *JobStatus) {
		st.StartedAt = start
		st.Running = true
	})
	s.log.Info("broadcast job started", logx.String("job", j.id), logx.String("name", j.name), logx.Int("total", len(j.targets)))

	for _, t := range j.targets {
		if ctx.Err() != nil {
			break
		}
		err := s.sendOne(ctx, j, t)
		s.update(j.id, func(st *JobStatus) {
			st.Done++
			if err != nil {
				st.Failed++
				if len(st.Failures) < 200 {
					st.Failures = append(st.Failures, t)
				}
			}
		})
	}

	var failed int
	s.update(j.id, func(st *JobStatus) {
		st.DoneAt = time.Now()
		st.Running = false
		failed = st.Failed
	})
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("total", len(j.targets)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
}

func (s *Service) sendOne(ctx context.Context, j job, t kit.ChatTarget) error {
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	s.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		_, err := s.sender.SendText(ctx, t, j.text, j.opt)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("broadcast send retry scheduled", logx.String("job", j.id), logx.Int64("chat_id", t.ChatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("broadcast send failed", logx.String("job", j.id), logx.Int64("chat_id", t.ChatID), logx.Int("thread_id", t.ThreadID), logx.Err(last))
	return last
}

func (s *Service) update(id string, fn func(*JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}
