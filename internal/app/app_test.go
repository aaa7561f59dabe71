package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dailycast/internal/broadcast"
	"dailycast/internal/config"
	"dailycast/internal/directory"
	"dailycast/internal/scheduler"
	"dailycast/internal/storage"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

// fakeAdapter records sends and edits; chats in gone answer ErrRecipientGone.
type fakeAdapter struct {
	mu     sync.Mutex
	sends  []sent
	edits  []string
	gone   map[int64]bool
	nextID int
	out    chan<- kit.Update
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[to.ChatID] {
		return kit.MessageRef{}, &kit.GoneError{Reason: "blocked"}
	}
	f.sends = append(f.sends, sent{to: to, text: text})
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendPoll(ctx context.Context, to kit.ChatTarget, p kit.Poll) (kit.MessageRef, error) {
	return f.SendText(ctx, to, "poll:"+p.Question, nil)
}

func (f *fakeAdapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error) {
	return f.SendText(ctx, to, fmt.Sprintf("copy:%d/%d", from.ChatID, from.MessageID), nil)
}

func (f *fakeAdapter) SplitText(text, _ string) []string { return []string{text} }

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) sentTo(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sends {
		if s.to.ChatID == chat {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeAdapter) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

// auditStore is an in-memory storage.Store exposing what was audited.
type auditStore struct {
	mu      sync.Mutex
	seen    map[string][]string
	entries []storage.AuditEntry
}

func newAuditStore() *auditStore { return &auditStore{seen: map[string][]string{}} }

func (s *auditStore) LoadSeen(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen[key]...), nil
}

func (s *auditStore) SaveSeen(_ context.Context, key string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = append([]string(nil), ids...)
	return nil
}

func (s *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *auditStore) Close() error { return nil }

func (s *auditStore) audit() []storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.AuditEntry(nil), s.entries...)
}

func testConfig() *config.Config {
	zero := "0s"
	return &config.Config{
		Telegram:  config.TelegramConfig{Token: "test", OwnerUserIDs: []int64{1}},
		Logging:   config.LoggingConfig{Level: "error"},
		Broadcast: config.BroadcastConfig{Pacing: &zero},
		Streams: []config.StreamConfig{{
			Name:    "facts",
			Times:   []string{"09:00"},
			Channel: &config.ChannelConfig{ChatID: -100500},
			Content: config.ContentConfig{
				Static: &config.StaticConfig{Texts: []string{"Octopuses have three hearts."}},
				Unique: &config.UniqueConfig{},
			},
		}},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, ad *fakeAdapter) *App {
	t.Helper()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	cfgm := config.NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	cfgm.Commit(cfg)
	logs, _ := logx.New(logx.Config{Level: "error"})
	a, err := New(context.Background(), cfgm, WithAdapter(ad), WithLogService(logs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPassOncePostsAndBroadcasts(t *testing.T) {
	ad := &fakeAdapter{gone: map[int64]bool{12: true}}
	a := newTestApp(t, testConfig(), ad)
	ctx := context.Background()
	for _, id := range []int64{11, 12, 13} {
		if err := a.dir.Add(ctx, directory.Recipient{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := a.PassOnce(ctx, "facts")
	if err != nil {
		t.Fatalf("PassOnce: %v", err)
	}
	if !res.Posted || res.Report == nil {
		t.Fatalf("result=%+v", res)
	}
	if got := ad.sentTo(-100500); len(got) != 1 || got[0] != "Octopuses have three hearts." {
		t.Fatalf("channel got %v", got)
	}
	r := *res.Report
	if r.Total != 3 || r.Delivered != 2 || r.Gone != 1 {
		t.Fatalf("report=%+v", r)
	}
	if n, _ := a.dir.Count(ctx); n != 2 {
		t.Fatalf("gone recipient not removed: count=%d", n)
	}

	if _, err := a.PassOnce(ctx, "nope"); err == nil {
		t.Fatalf("expected unknown stream error")
	}
	if err := a.Stop(ctx, StopOneShot); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRunOnceReportsToLogChat(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.LogChatID = -42
	ad := &fakeAdapter{}
	a := newTestApp(t, cfg, ad)
	ctx := context.Background()

	if _, err := a.RunOnce(ctx, "facts"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := a.Stop(ctx, StopOneShot); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got := ad.sentTo(-42)
	if len(got) != 1 || !strings.Contains(got[0], "facts sent at") {
		t.Fatalf("log chat got %v", got)
	}
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.LogChatID = -42
	ad := &fakeAdapter{}
	a := newTestApp(t, cfg, ad)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Health(); err != nil {
		t.Fatalf("Health: %v", err)
	}

	// The restart notice reaches the log chat.
	deadline := time.Now().Add(3 * time.Second)
	for len(ad.sentTo(-42)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ad.sentTo(-42); len(got) == 0 || !strings.Contains(got[0], "restarted") {
		t.Fatalf("log chat got %v", got)
	}

	// /start through the update channel registers the sender.
	ad.mu.Lock()
	out := ad.out
	ad.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 77, FromID: 77, Text: "/start", IsPrivate: true}}
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := a.dir.Count(ctx); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, _ := a.dir.Count(ctx); n != 1 {
		t.Fatalf("count=%d after /start", n)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("supervisor context still live after Stop")
	}
}

type fakeStreams struct {
	mu     sync.Mutex
	posted []string
}

func (f *fakeStreams) PassOnce(_ context.Context, name string) (scheduler.Result, error) {
	if name != "facts" {
		return scheduler.Result{}, ErrUnknownStream
	}
	f.mu.Lock()
	f.posted = append(f.posted, name)
	f.mu.Unlock()
	return scheduler.Result{ContentID: "static:1", Posted: true}, nil
}

func (f *fakeStreams) StreamStatus() []scheduler.Status {
	return []scheduler.Status{{Name: "facts", State: scheduler.Sleeping, NextWake: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}}
}

func newTestCommands(ad *fakeAdapter, dir directory.Directory, store storage.Store) *commandManager {
	sender := broadcast.NewSender(ad, broadcast.SenderConfig{}, logx.Nop())
	engine := broadcast.NewEngine(sender, dir, broadcast.EngineConfig{ProgressEvery: 2}, logx.Nop())
	return newCommandManager(logx.Nop(), ad, dir, engine, &fakeStreams{}, store, []int64{1})
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		cmd  string
		args int
		ok   bool
	}{
		{"/start", "start", 0, true},
		{"/Post@dailycast_bot quotes", "post", 1, true},
		{"  /stats  ", "stats", 0, true},
		{"hello", "", 0, false},
		{"/", "", 0, false},
	}
	for _, tc := range cases {
		cmd, args, ok := parseCommand(tc.in)
		if cmd != tc.cmd || len(args) != tc.args || ok != tc.ok {
			t.Fatalf("parseCommand(%q) = %q %v %v", tc.in, cmd, args, ok)
		}
	}
}

func TestStartCommandPrivateOnly(t *testing.T) {
	ad := &fakeAdapter{}
	dir := directory.NewMemory()
	c := newTestCommands(ad, dir, nil)
	ctx := context.Background()

	c.handle(ctx, &kit.Message{ChatID: -5, FromID: 9, Text: "/start"})
	c.handle(ctx, &kit.Message{ChatID: 9, FromID: 9, FromName: "Ana", Text: "/start", IsPrivate: true})
	c.handle(ctx, &kit.Message{ChatID: 9, FromID: 9, Text: "/start", IsPrivate: true})

	if n, _ := dir.Count(ctx); n != 1 || !dir.Has(9) {
		t.Fatalf("count=%d has9=%v", n, dir.Has(9))
	}
	if got := ad.sentTo(9); len(got) != 2 {
		t.Fatalf("replies=%v", got)
	}
}

func TestOwnerCommandsIgnoreStrangers(t *testing.T) {
	ad := &fakeAdapter{}
	c := newTestCommands(ad, directory.NewMemory(), nil)
	c.handle(context.Background(), &kit.Message{ChatID: 2, FromID: 2, Text: "/stats"})
	c.handle(context.Background(), &kit.Message{ChatID: 2, FromID: 2, Text: "/broadcast", ReplyText: "hi", ReplyTo: &kit.MessageRef{ChatID: 2, MessageID: 3}})
	if got := ad.sentTo(2); len(got) != 0 {
		t.Fatalf("stranger got replies: %v", got)
	}
}

func TestBroadcastCommand(t *testing.T) {
	ad := &fakeAdapter{gone: map[int64]bool{102: true}}
	dir := directory.NewMemory(
		directory.Recipient{ID: 101},
		directory.Recipient{ID: 102},
		directory.Recipient{ID: 103},
	)
	store := newAuditStore()
	c := newTestCommands(ad, dir, store)
	owner := &kit.Message{
		ChatID:       1,
		FromID:       1,
		FromUsername: "boss",
		Text:         "/broadcast",
		ReplyText:    "Server maintenance at 22:00",
		ReplyTo:      &kit.MessageRef{ChatID: 1, MessageID: 77},
	}

	c.handle(context.Background(), &kit.Message{ChatID: 1, FromID: 1, Text: "/broadcast"})
	if got := ad.sentTo(1); len(got) != 1 || !strings.Contains(got[0], "reply to") {
		t.Fatalf("missing reply hint: %v", got)
	}

	c.handle(context.Background(), owner)
	if err := c.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{101, 103} {
		if got := ad.sentTo(id); len(got) != 1 || got[0] != "copy:1/77" {
			t.Fatalf("recipient %d got %v", id, got)
		}
	}
	final := ad.lastEdit()
	if !strings.Contains(final, "Delivered: 2") || !strings.Contains(final, "Removed (blocked/deleted): 1") {
		t.Fatalf("final edit=%q", final)
	}
	if dir.Has(102) {
		t.Fatalf("gone recipient kept")
	}

	entries := store.audit()
	if len(entries) != 1 {
		t.Fatalf("audit=%+v", entries)
	}
	e := entries[0]
	if e.Kind != storage.AuditCommand || e.Action != "broadcast" || e.ActorUsername != "boss" || e.Delivered != 2 || e.Gone != 1 {
		t.Fatalf("audit entry=%+v", e)
	}
}

func TestBroadcastCommandOneAtATime(t *testing.T) {
	ad := &fakeAdapter{}
	c := newTestCommands(ad, directory.NewMemory(directory.Recipient{ID: 5}), nil)
	var spawned []func(context.Context)
	c.spawn = func(_ context.Context, _ string, fn func(context.Context)) {
		spawned = append(spawned, fn)
	}
	msg := &kit.Message{ChatID: 1, FromID: 1, Text: "/broadcast", ReplyTo: &kit.MessageRef{ChatID: 1, MessageID: 9}}
	c.handle(context.Background(), msg)
	c.handle(context.Background(), msg)

	if len(spawned) != 1 {
		t.Fatalf("spawned %d broadcasts", len(spawned))
	}
	if got := ad.sentTo(1); len(got) != 1 || !strings.Contains(got[0], "already running") {
		t.Fatalf("owner replies=%v", got)
	}
	spawned[0](context.Background())
	if c.busy.Load() {
		t.Fatalf("busy flag not released")
	}
}

func TestPostAndStatsCommands(t *testing.T) {
	ad := &fakeAdapter{}
	dir := directory.NewMemory(directory.Recipient{ID: 5}, directory.Recipient{ID: 6})
	store := newAuditStore()
	c := newTestCommands(ad, dir, store)
	ctx := context.Background()

	c.handle(ctx, &kit.Message{ChatID: 1, FromID: 1, Text: "/post facts"})
	c.handle(ctx, &kit.Message{ChatID: 1, FromID: 1, Text: "/post nope"})
	c.handle(ctx, &kit.Message{ChatID: 1, FromID: 1, Text: "/post"})
	if err := c.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	c.handle(ctx, &kit.Message{ChatID: 1, FromID: 1, Text: "/stats"})

	replies := strings.Join(ad.sentTo(1), "\n---\n")
	for _, want := range []string{"✅ facts posted (static:1)", "unknown stream nope", "usage: /post", "Recipients: 2", "facts: sleeping"} {
		if !strings.Contains(replies, want) {
			t.Fatalf("replies missing %q:\n%s", want, replies)
		}
	}
	if n := len(store.audit()); n != 2 {
		t.Fatalf("audit entries=%d, want 2", n)
	}
}

func TestNextWakes(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Timezone = "Asia/Jakarta"
	loc, _ := time.LoadLocation("Asia/Jakarta")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, loc)

	got, err := NextWakes(cfg, "", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	if len(got) != 1 || !got[0].At.Equal(want) {
		t.Fatalf("got %+v, want %v", got, want)
	}
	if _, err := NextWakes(cfg, "missing", now); err == nil {
		t.Fatalf("expected unknown stream error")
	}
}

func TestMapEngineConfigPacing(t *testing.T) {
	cfg := &config.Config{}
	if got := mapEngineConfig(cfg).Pacing; got != broadcast.DefaultPacing {
		t.Fatalf("default pacing=%v", got)
	}
	zero := "0s"
	cfg.Broadcast.Pacing = &zero
	if got := mapEngineConfig(cfg).Pacing; got != 0 {
		t.Fatalf("disabled pacing=%v", got)
	}
}
