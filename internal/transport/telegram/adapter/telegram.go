package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "dailycast/internal/runtime/supervisor"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// Adapter is the telebot-backed kit.Adapter. Incoming text messages become
// kit.Updates; sends and edits go straight to the Bot API.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while polling
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	settings := tele.Settings{
		Token:  cfg.Token,
		URL:    strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	}
	if cfg.SendTimeout > 0 {
		// Long polling holds a request open for PollTimeout, so the client
		// deadline has to cover that as well.
		settings.Client = &http.Client{Timeout: cfg.SendTimeout + cfg.PollTimeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
		Text:         m.Text,
		IsPrivate:    m.Private(),
	}
	if r := m.ReplyTo; r != nil {
		msg.ReplyText = r.Text
		if msg.ReplyText == "" {
			msg.ReplyText = r.Caption
		}
		ref := &kit.MessageRef{ChatID: m.Chat.ID, ThreadID: m.ThreadID, MessageID: r.ID}
		if r.Chat != nil {
			ref.ChatID = r.Chat.ID
		}
		msg.ReplyTo = ref
	}

	out := a.out.Load()
	if out == nil {
		return nil
	}
	select {
	case *out <- kit.Update{Kind: kit.UpdateMessage, Message: msg}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Start begins long polling. Updates are pushed to out without blocking;
// when out is full they are dropped and counted.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup = sup

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; a return while still live is restarted.
	sup.GoRestart0("telegram.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. A long poll still in flight is abandoned after 2s.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// telegramTextLimit stays under the Bot API's 4096 characters to leave room
// for entities.
const telegramTextLimit = 4000

// splitText cuts s into chunks of at most limit runes. A cut prefers the last
// newline in the final two thirds of the chunk and, for HTML, never lands
// inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	for len(rs) > 0 {
		cut := len(rs)
		if cut > limit {
			cut = limit
			for i := cut - 1; i >= limit/3; i-- {
				if rs[i] == '\n' {
					cut = i + 1
					break
				}
			}
			if html {
				if open := lastIndex(rs[:cut], '<'); open > 1 && open > lastIndex(rs[:cut], '>') {
					cut = open
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// SplitText returns the parts SendText would send for text.
func (a *Adapter) SplitText(text, parseMode string) []string {
	return splitText(text, telegramTextLimit, parseMode)
}

// SendText posts text, split into several messages when it is too long. The
// returned ref points at the first one. Errors are translated into
// kit.ErrRecipientGone and *kit.ThrottleError where they apply. A failure
// on a later part leaves the earlier parts delivered; callers that retry
// should send SplitText's parts one by one instead.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	first := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, chunk := range splitText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, translateError(err)
		}
		if i == 0 {
			first.MessageID = msg.ID
		}
	}
	return first, nil
}

// EditText replaces the text of a sent message. Only the first chunk fits in
// an edit; progress texts stay well below the limit.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, splitText(text, telegramTextLimit, opt.ParseMode)[0],
		&tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview})
	return translateError(err)
}

// Bot API limits for sendPoll.
const (
	pollQuestionLimit    = 300
	pollOptionLimit      = 100
	pollExplanationLimit = 200
)

func (a *Adapter) SendPoll(ctx context.Context, to kit.ChatTarget, p kit.Poll) (kit.MessageRef, error) {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if err := ctx.Err(); err != nil {
		return ref, err
	}
	poll := &tele.Poll{
		Type:      tele.PollRegular,
		Question:  clip(p.Question, pollQuestionLimit),
		Anonymous: !p.Public,
	}
	for _, o := range p.Options {
		poll.AddOptions(clip(o, pollOptionLimit))
	}
	if p.Quiz {
		poll.Type = tele.PollQuiz
		poll.CorrectOption = p.CorrectOption
		poll.Explanation = clip(p.Explanation, pollExplanationLimit)
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, poll, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return ref, translateError(err)
	}
	ref.MessageID = msg.ID
	return ref, nil
}

// CopyMessage sends a copy of from to the target. Media and captions are
// kept; the copy carries no forward header.
func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error) {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if err := ctx.Err(); err != nil {
		return ref, err
	}
	src := &tele.Message{ID: from.MessageID, Chat: &tele.Chat{ID: from.ChatID}}
	msg, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, src, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return ref, translateError(err)
	}
	ref.MessageID = msg.ID
	return ref, nil
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
