package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"dailycast/internal/broadcast"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// botAPI is a minimal Bot API server. It records the parameters of every
// call by method and answers the sendMessage call numbered throttleAt with 429.
type botAPI struct {
	mu         sync.Mutex
	calls      map[string][]map[string]string
	throttleAt int
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	params := map[string]string{}
	_ = json.NewDecoder(r.Body).Decode(&params)

	b.mu.Lock()
	if b.calls == nil {
		b.calls = map[string][]map[string]string{}
	}
	b.calls[method] = append(b.calls[method], params)
	n := len(b.calls[method])
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
	case "sendMessage", "sendPoll", "copyMessage":
		if method == "sendMessage" && n == b.throttleAt {
			fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"}}}`, 100+n, params["chat_id"])
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (b *botAPI) params(method string) []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.calls[method]...)
}

func newTestAdapter(t *testing.T, api *botAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "test", APIURL: srv.URL, SendTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestThrottledPartIsNotResent(t *testing.T) {
	api := &botAPI{throttleAt: 2}
	a := newTestAdapter(t, api)
	s := broadcast.NewSender(a, broadcast.SenderConfig{}, logx.Nop(),
		broadcast.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))

	head := strings.Repeat("a", 3990)
	tail := strings.Repeat("b", 3000)
	out := s.Send(context.Background(), 42, broadcast.Message{Text: head + "\n" + tail})
	if out.Kind != broadcast.Delivered {
		t.Fatalf("outcome=%+v", out)
	}

	calls := api.params("sendMessage")
	if len(calls) != 3 {
		t.Fatalf("sendMessage calls=%d, want 3", len(calls))
	}
	var heads, tails int
	for _, c := range calls {
		switch c["text"] {
		case head:
			heads++
		case tail:
			tails++
		default:
			t.Fatalf("unexpected part of %d runes", len([]rune(c["text"])))
		}
	}
	if heads != 1 || tails != 2 {
		t.Fatalf("head sent %d times, tail sent %d times", heads, tails)
	}
}

func TestSendPollQuiz(t *testing.T) {
	api := &botAPI{}
	a := newTestAdapter(t, api)
	ref, err := a.SendPoll(context.Background(), kit.ChatTarget{ChatID: 42}, kit.Poll{
		Question:      "What is H2O?",
		Options:       []string{"Gold", "Water", "Salt"},
		Quiz:          true,
		CorrectOption: 1,
		Explanation:   "Category: Science",
	})
	if err != nil {
		t.Fatalf("SendPoll: %v", err)
	}
	if ref.ChatID != 42 || ref.MessageID != 101 {
		t.Fatalf("ref=%+v", ref)
	}
	p := api.params("sendPoll")[0]
	if p["type"] != "quiz" || p["correct_option_id"] != "1" || p["is_anonymous"] != "true" || p["explanation"] != "Category: Science" {
		t.Fatalf("params=%v", p)
	}
	var opts []struct{ Text string }
	if err := json.Unmarshal([]byte(p["options"]), &opts); err != nil || len(opts) != 3 || opts[1].Text != "Water" {
		t.Fatalf("options=%q err=%v", p["options"], err)
	}
}

func TestCopyMessage(t *testing.T) {
	api := &botAPI{}
	a := newTestAdapter(t, api)
	ref, err := a.CopyMessage(context.Background(), kit.ChatTarget{ChatID: 42}, kit.MessageRef{ChatID: -100, MessageID: 7})
	if err != nil {
		t.Fatalf("CopyMessage: %v", err)
	}
	if ref.MessageID != 101 {
		t.Fatalf("ref=%+v", ref)
	}
	p := api.params("copyMessage")[0]
	if p["chat_id"] != "42" || p["from_chat_id"] != "-100" || p["message_id"] != "7" {
		t.Fatalf("params=%v", p)
	}
}
