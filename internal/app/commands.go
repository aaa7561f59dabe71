package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dailycast/internal/broadcast"
	"dailycast/internal/directory"
	"dailycast/internal/scheduler"
	"dailycast/internal/storage"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

var (
	ErrUnknownStream  = errors.New("unknown stream")
	errBroadcastBusy  = errors.New("a broadcast is already running")
	errNotOwner       = errors.New("owner only")
	errNoReplyContent = errors.New("reply to the message you want to broadcast")
)

// messenger is the slice of the transport the command handlers need.
type messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// streamControl is what /post and /stats need from the running streams.
type streamControl interface {
	PassOnce(ctx context.Context, name string) (scheduler.Result, error)
	StreamStatus() []scheduler.Status
}

// commandManager handles operator and subscriber commands from chat updates.
type commandManager struct {
	log     logx.Logger
	msg     messenger
	dir     directory.Directory
	engine  *broadcast.Engine
	streams streamControl
	store   storage.Store

	owners atomic.Pointer[[]int64]
	// busy guards /broadcast: one manual broadcast at a time.
	busy atomic.Bool
	// spawn runs long handlers off the dispatch goroutine.
	spawn func(ctx context.Context, name string, fn func(ctx context.Context))
	now   func() time.Time
	wg    sync.WaitGroup
}

func newCommandManager(log logx.Logger, msg messenger, dir directory.Directory, engine *broadcast.Engine, streams streamControl, store storage.Store, owners []int64) *commandManager {
	c := &commandManager{
		log:     log,
		msg:     msg,
		dir:     dir,
		engine:  engine,
		streams: streams,
		store:   store,
		now:     time.Now,
	}
	c.SetOwners(owners)
	c.spawn = func(ctx context.Context, _ string, fn func(ctx context.Context)) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fn(ctx)
		}()
	}
	return c
}

func (c *commandManager) SetOwners(ids []int64) {
	cp := append([]int64(nil), ids...)
	c.owners.Store(&cp)
}

func (c *commandManager) isOwner(id int64) bool {
	p := c.owners.Load()
	return p != nil && slices.Contains(*p, id)
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (c *commandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Kind != kit.UpdateMessage || u.Message == nil {
				continue
			}
			c.handle(ctx, u.Message)
		}
	}
}

// parseCommand splits "/cmd@bot arg1 arg2" into ("cmd", ["arg1", "arg2"]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

func (c *commandManager) handle(ctx context.Context, m *kit.Message) {
	cmd, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	log := c.log.With(logx.String("cmd", cmd), logx.Int64("from", m.FromID))

	var err error
	switch cmd {
	case "start":
		err = c.cmdStart(ctx, m)
	case "broadcast":
		err = c.ownerOnly(m, func() error { return c.cmdBroadcast(ctx, m) })
	case "post":
		err = c.ownerOnly(m, func() error { return c.cmdPost(ctx, m, args) })
	case "stats":
		err = c.ownerOnly(m, func() error { return c.cmdStats(ctx, m) })
	default:
		return
	}
	log.Debug("command handled", logx.Err(err))
	if err != nil {
		if errors.Is(err, errNotOwner) {
			return
		}
		c.reply(ctx, m, "⚠️ "+err.Error())
	}
}

func (c *commandManager) ownerOnly(m *kit.Message, fn func() error) error {
	if !c.isOwner(m.FromID) {
		return errNotOwner
	}
	return fn()
}

func (c *commandManager) reply(ctx context.Context, m *kit.Message, text string) (kit.MessageRef, error) {
	ref, err := c.msg.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text, nil)
	if err != nil {
		c.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
	return ref, err
}

func (c *commandManager) audit(m *kit.Message, action, stream string, rep *broadcast.Report, cmdErr error) {
	if c.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            c.now(),
		Kind:          storage.AuditCommand,
		Stream:        stream,
		ActorID:       m.FromID,
		ActorUsername: m.FromUsername,
		Action:        action,
	}
	if rep != nil {
		e.PassID = rep.ID
		e.Total, e.Delivered, e.Gone, e.Transient, e.Skipped = rep.Total, rep.Delivered, rep.Gone, rep.Transient, rep.Skipped
		e.Incomplete = rep.Incomplete
		e.TookMS = rep.Duration.Milliseconds()
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.AppendAudit(ctx, e); err != nil {
		c.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

// /start registers the chat as a recipient. Only private chats subscribe.
func (c *commandManager) cmdStart(ctx context.Context, m *kit.Message) error {
	if !m.IsPrivate {
		return nil
	}
	name := m.FromName
	if name == "" {
		name = m.FromUsername
	}
	if err := c.dir.Add(ctx, directory.Recipient{ID: m.ChatID, Name: name, SubscribedAt: c.now()}); err != nil {
		c.log.Error("register recipient failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		return errors.New("could not subscribe right now, try again later")
	}
	c.log.Info("recipient registered", logx.Int64("chat", m.ChatID))
	_, _ = c.reply(ctx, m, "👋 Subscribed. You will receive the daily posts here.")
	return nil
}

// /broadcast, sent as a reply, copies the replied message to every
// recipient, media and caption included. The status message is edited as
// progress comes in.
func (c *commandManager) cmdBroadcast(ctx context.Context, m *kit.Message) error {
	if m.ReplyTo == nil {
		return errNoReplyContent
	}
	msg := broadcast.Message{Text: m.ReplyText, CopyOf: m.ReplyTo}
	if !c.busy.CompareAndSwap(false, true) {
		return errBroadcastBusy
	}

	c.spawn(ctx, "command.broadcast", func(ctx context.Context) {
		defer c.busy.Store(false)

		status, err := c.reply(ctx, m, "📣 Broadcast started…")
		hasStatus := err == nil && status.MessageID != 0
		edit := func(s string) {
			if !hasStatus {
				return
			}
			if err := c.msg.EditText(ctx, status, s, nil); err != nil {
				c.log.Debug("progress edit failed", logx.Err(err))
			}
		}

		obs := broadcast.ObserverFunc(func(p broadcast.Progress) {
			edit(fmt.Sprintf("📣 Broadcasting… %d processed (%d delivered, %d removed, %d failed) in %s",
				p.Processed, p.Delivered, p.Gone, p.Transient, p.Elapsed.Round(time.Second)))
		})
		rep, runErr := c.engine.Run(ctx, "manual", msg, c.dir.Active(ctx), broadcast.WithObserver(obs))

		final := rep.Summary()
		if runErr != nil {
			final += "\n\n⚠️ " + runErr.Error()
		}
		if hasStatus {
			edit(final)
		} else {
			_, _ = c.reply(ctx, m, final)
		}
		c.audit(m, "broadcast", "manual", &rep, runErr)
	})
	return nil
}

// /post <stream> runs a stream's pass now.
func (c *commandManager) cmdPost(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /post <stream>")
	}
	name := strings.ToLower(args[0])
	c.spawn(ctx, "command.post", func(ctx context.Context) {
		res, err := c.streams.PassOnce(ctx, name)
		var text string
		switch {
		case errors.Is(err, ErrUnknownStream):
			text = "⚠️ unknown stream " + name
		case err != nil:
			text = fmt.Sprintf("⚠️ %s failed: %v", name, err)
		default:
			text = fmt.Sprintf("✅ %s posted", name)
			if res.ContentID != "" {
				text += " (" + res.ContentID + ")"
			}
			if res.Report != nil {
				text += "\n\n" + res.Report.Summary()
			}
		}
		_, _ = c.reply(ctx, m, text)
		c.audit(m, "post", name, res.Report, err)
	})
	return nil
}

// /stats shows the recipient count and each loop's state.
func (c *commandManager) cmdStats(ctx context.Context, m *kit.Message) error {
	var b strings.Builder
	n, err := c.dir.Count(ctx)
	if err != nil {
		fmt.Fprintf(&b, "Recipients: unknown (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "Recipients: %d\n", n)
	}
	for _, st := range c.streams.StreamStatus() {
		fmt.Fprintf(&b, "\n%s: %s", st.Name, st.State)
		if !st.NextWake.IsZero() && st.State != scheduler.Stopped {
			fmt.Fprintf(&b, ", next %s", st.NextWake.Format("2006-01-02 15:04 MST"))
		}
		if st.Failures > 0 {
			fmt.Fprintf(&b, ", %d failed in a row", st.Failures)
		}
		if st.LastErr != "" {
			fmt.Fprintf(&b, "\n  last error: %s", st.LastErr)
		}
	}
	_, _ = c.reply(ctx, m, b.String())
	return nil
}

// Wait blocks until spawned handlers return or ctx is done.
func (c *commandManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
