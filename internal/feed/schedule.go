package feed

import (
	"context"
	"time"

	"pepperbot/internal/store"
	"pepperbot/internal/task/scheduler"
)

const JobName = "feed.poll"

// Register schedules the poller on s. The first cycle runs at start.
// A lost store connection is reported through s.Fatal.
func (p *Poller) Register(s *scheduler.Service, every, timeout time.Duration) error {
	return s.AddInterval(JobName, every, timeout, func(ctx context.Context) error {
		_, err := p.Cycle(ctx)
		if store.IsConnectionError(err) {
			return scheduler.Fatal(err)
		}
		return err
	}, scheduler.RunAtStart())
}
