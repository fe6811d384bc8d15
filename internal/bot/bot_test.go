package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"pepperbot/internal/store"
	"pepperbot/internal/storage"
	"pepperbot/internal/transport"
	"pepperbot/internal/transport/telegram/router"
	logx "pepperbot/pkg/logx"
)

type replies struct {
	mu   sync.Mutex
	text []string
}

func (r *replies) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = append(r.text, text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (r *replies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.text) == 0 {
		return ""
	}
	return r.text[len(r.text)-1]
}

type fakeBroadcaster struct {
	targets []transport.ChatTarget
	text    string
	err     error
}

func (f *fakeBroadcaster) Submit(_ string, targets []transport.ChatTarget, text string, _ *transport.SendOptions) (string, error) {
	f.targets, f.text = targets, text
	return "bc:1", f.err
}

type fixture struct {
	h     *Handlers
	dir   *store.Directory
	set   *store.Settings
	bc    *fakeBroadcaster
	audit storage.Store
	out   *replies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	subs := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	cfg := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 2})
	t.Cleanup(func() { _ = subs.Close(); _ = cfg.Close() })

	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	f := &fixture{
		dir:   store.NewDirectory(subs),
		set:   store.NewSettings(cfg),
		bc:    &fakeBroadcaster{},
		audit: audit,
		out:   &replies{},
	}
	f.h = New(f.dir, f.set, f.bc, audit, nil, logx.Nop())
	return f
}

func (f *fixture) run(t *testing.T, name string, chatID int64, text string) string {
	t.Helper()
	var cmd *router.Command
	for _, c := range f.h.Commands() {
		if c.Name == name {
			c := c
			cmd = &c
		}
	}
	require.NotNil(t, cmd, name)
	req := &router.Request{
		Update:  transport.Update{Message: &transport.Message{ChatID: chatID, FromID: chatID, Text: "/" + name + " " + text}},
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  chatID,
		Command: name,
		Text:    text,
		Args:    strings.Fields(text),
		Sender:  f.out,
		Logger:  logx.Nop(),
	}
	require.NoError(t, cmd.Handle(context.Background(), req))
	return f.out.last()
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, msgSignedUp, f.run(t, "start", 100, ""))
	filter, ok, err := f.dir.Get(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, filter)

	require.Equal(t, msgStopped, f.run(t, "stop", 100, ""))
	_, ok, err = f.dir.Get(ctx, "100")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.run(t, "categories", 7, "gaming, elektro, zzzz")
	require.Equal(t, "Signed up for gaming, elektronica", reply)
	filter, _, err := f.dir.Get(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, []string{"gaming", "elektronica"}, filter)

	require.Equal(t, msgFilterReset, f.run(t, "categories", 7, "zzzz"))
	filter, ok, err := f.dir.Get(ctx, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, filter)
}

func TestAvailableCategories(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "available_categories", 7, "")
	require.True(t, strings.HasPrefix(reply, "The following categories are available for signups: \n\nElektronica\nGaming"))
}

func TestKillSwitchIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, msgBotStopped, f.run(t, "stop_bot", 1, ""))
	on, err := f.set.Operational(ctx)
	require.NoError(t, err)
	require.False(t, on)

	require.Equal(t, msgBotStarted, f.run(t, "start_bot", 1, ""))
	on, err = f.set.Operational(ctx)
	require.NoError(t, err)
	require.True(t, on)

	got, err := f.audit.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "start_bot", got[0].Action)
	require.Equal(t, "stop_bot", got[1].Action)
	require.EqualValues(t, 1, got[1].ActorID)
}

func TestBroadcastIgnoresFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.Set(ctx, "300", []string{"gaming"}))
	require.NoError(t, f.dir.Set(ctx, "100", nil))
	require.NoError(t, f.dir.Set(ctx, "-200:5", nil))
	require.NoError(t, f.dir.Set(ctx, "garbage", nil))

	reply := f.run(t, "broadcast", 1, "Maintenance tonight")
	require.Equal(t, "Broadcast bc:1 queued for 3 subscribers", reply)
	require.Equal(t, "Maintenance tonight", f.bc.text)
	require.Equal(t, []transport.ChatTarget{{ChatID: -200, ThreadID: 5}, {ChatID: 100}, {ChatID: 300}}, f.bc.targets)

	require.Equal(t, msgBroadcastUse, f.run(t, "broadcast", 1, "  "))

	f.bc.err = errors.New("queue full")
	require.Equal(t, "Broadcast failed: queue full", f.run(t, "broadcast", 1, "again"))
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	for _, c := range f.h.Commands() {
		switch c.Name {
		case "stop_bot", "start_bot", "broadcast":
			require.Equal(t, router.AccessAdmin, c.Access, c.Name)
		default:
			require.Equal(t, router.AccessEveryone, c.Access, c.Name)
		}
	}
}
