package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, db int) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Open(context.Background(), "redis://"+mr.Addr(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestMarkersClaimOnce(t *testing.T) {
	mr, c := newTestClient(t, 1)
	m := NewMarkers(c)
	ctx := context.Background()

	ok, err := m.Claim(ctx, "deal-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Claim(ctx, "deal-1")
	require.NoError(t, err)
	require.False(t, ok, "second claim must report duplicate")

	mr.Select(1)
	v, err := mr.Get("deal-1")
	require.NoError(t, err)
	require.Equal(t, "1", v)
	require.Equal(t, MarkerTTL, mr.TTL("deal-1"))

	mr.FastForward(MarkerTTL)
	ok, err = m.Claim(ctx, "deal-1")
	require.NoError(t, err)
	require.True(t, ok, "claim after expiry")
}

func TestMarkersEnqueuedHintIsSeparate(t *testing.T) {
	_, c := newTestClient(t, 1)
	m := NewMarkers(c)
	ctx := context.Background()

	require.NoError(t, m.MarkEnqueued(ctx, "x"))
	seen, err := m.Seen(ctx, "x")
	require.NoError(t, err)
	require.False(t, seen)

	enq, err := m.Enqueued(ctx, "x")
	require.NoError(t, err)
	require.True(t, enq)

	ok, err := m.Claim(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok, "producer hint must not block consumer claim")

	require.NoError(t, m.Release(ctx, "x"))
	seen, err = m.Seen(ctx, "x")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestSettingsDefaultsAndCounters(t *testing.T) {
	_, c := newTestClient(t, 2)
	s := NewSettings(c)
	ctx := context.Background()

	on, err := s.Operational(ctx)
	require.NoError(t, err)
	require.True(t, on, "missing flag means enabled")

	require.NoError(t, s.Set(ctx, KeyDealsSent, "7"))
	require.NoError(t, s.EnsureDefaults(ctx))

	v, ok, err := s.Get(ctx, KeyDealsSent)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "7", v, "defaults must not overwrite")

	n, err := s.Incr(ctx, KeyMessagesSent, 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, s.SetOperational(ctx, false))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Operational: false, MessagesSent: 3, DealsSent: 7}, st)
}

func TestSettingsUnknownFlagValueIsEnabled(t *testing.T) {
	_, c := newTestClient(t, 2)
	s := NewSettings(c)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyOperational, "yes"))
	on, err := s.Operational(ctx)
	require.NoError(t, err)
	require.True(t, on)
}

func TestParseFilter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{in: "1", want: nil},
		{in: "gaming", want: []string{"gaming"}},
		{in: "gaming, elektronica ,", want: []string{"gaming", "elektronica"}},
		{in: " , ", want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ParseFilter(tt.in))
		})
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	_, c := newTestClient(t, 0)
	d := NewDirectory(c)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "100", nil))
	require.NoError(t, d.Set(ctx, "200", []string{"gaming", "boodschappen"}))

	subs, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Nil(t, subs["100"])
	require.Equal(t, []string{"gaming", "boodschappen"}, subs["200"])

	n, err := d.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, d.Delete(ctx, "100"))
	_, ok, err := d.Get(ctx, "100")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirectoryListManyKeys(t *testing.T) {
	_, c := newTestClient(t, 0)
	d := NewDirectory(c)
	d.scanSize = 3
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Set(ctx, fmt.Sprint(i), nil))
	}
	subs, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 20)
}

func TestIsConnectionError(t *testing.T) {
	t.Parallel()
	require.False(t, IsConnectionError(nil))
	require.False(t, IsConnectionError(redis.Nil))
	require.False(t, IsConnectionError(context.Canceled))
	require.True(t, IsConnectionError(redis.ErrClosed))
	require.True(t, IsConnectionError(fmt.Errorf("pop: %w", ErrConnectionLost)))
}

func TestClosedServerIsConnectionLost(t *testing.T) {
	mr, c := newTestClient(t, 2)
	s := NewSettings(c)
	mr.Close()

	_, err := s.Incr(context.Background(), KeyDealsSent, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConnectionLost), "got %v", err)
}

func TestServerReplyIsNotConnectionError(t *testing.T) {
	_, c := newTestClient(t, 2)
	s := NewSettings(c)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyDealsSent, "not-a-number"))

	_, err := s.Incr(ctx, KeyDealsSent, 1)
	require.Error(t, err)
	require.False(t, IsConnectionError(err))
}
