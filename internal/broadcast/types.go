// Package broadcast sends one text to many chats in the background,
// rate limited and with per-target retries.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "pepperbot/internal/transport"
	logx "pepperbot/pkg/logx"
)

var (
	ErrNotRunning = errors.New("broadcast: service not running")
	ErrQueueFull  = errors.New("broadcast: queue full")
)

type Config struct {
	Workers    int
	RatePerSec int
	RetryMax   int
	QueueSize  int
}

type job struct {
	id      string
	name    string
	targets []kit.ChatTarget
	text    string
	opt     *kit.SendOptions
}

type JobStatus struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Total    int              `json:"total"`
	Done     int              `json:"done"`
	Failed   int              `json:"failed"`
	Failures []kit.ChatTarget `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at"`
	Running   bool      `json:"running"`
}

// Finished reports whether every target has been attempted.
func (s JobStatus) Finished() bool { return !s.DoneAt.IsZero() }

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender kit.Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job

	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}
