// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pepperbot_feed_cycles_total",
		Help: "Feed poll cycles by result",
	}, []string{"result"})

	FeedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pepperbot_feed_items_total",
		Help: "Feed items by outcome (enqueued, skipped, failed)",
	}, []string{"outcome"})

	FeedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pepperbot_feed_fetch_duration_seconds",
		Help:    "Time spent fetching and parsing the feed",
		Buckets: prometheus.DefBuckets,
	})

	EntriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pepperbot_entries_processed_total",
		Help: "Queue entries handled by the dispatcher, by outcome",
	}, []string{"outcome"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pepperbot_messages_sent_total",
		Help: "Messages delivered to subscribers",
	})

	SendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pepperbot_send_errors_total",
		Help: "Failed message deliveries",
	})

	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pepperbot_fanout_duration_seconds",
		Help:    "Time spent fanning one entry out to subscribers",
		Buckets: prometheus.DefBuckets,
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pepperbot_commands_total",
		Help: "Bot commands handled, by command",
	}, []string{"command"})
)
