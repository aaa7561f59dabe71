package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

type memSeenStore struct {
	data  map[string][]string
	saves int
}

func (m *memSeenStore) LoadSeen(_ context.Context, key string) ([]string, error) {
	return append([]string(nil), m.data[key]...), nil
}

func (m *memSeenStore) SaveSeen(_ context.Context, key string, ids []string) error {
	if m.data == nil {
		m.data = map[string][]string{}
	}
	m.data[key] = append([]string(nil), ids...)
	m.saves++
	return nil
}

// seqSource yields ids from a list, repeating the last one.
func seqSource(ids ...string) Source {
	var n int
	return SourceFunc(func(context.Context) (Message, error) {
		id := ids[min(n, len(ids)-1)]
		n++
		return Message{ID: id, Text: "item " + id}, nil
	})
}

func TestSeenSetBounded(t *testing.T) {
	t.Parallel()
	s := NewSeenSet(3)
	for _, id := range []string{"a", "b", "c", "a", "d"} {
		s.Add(id)
	}
	if s.Len() != 3 || s.Has("a") || !s.Has("d") {
		t.Fatalf("ids=%v", s.IDs())
	}
	if got := s.IDs(); got[0] != "b" || got[2] != "d" {
		t.Fatalf("order=%v", got)
	}
}

func TestUniqueSkipsSeen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memSeenStore{data: map[string][]string{"facts": {"1", "2"}}}
	u := NewUnique(seqSource("1", "2", "3"), store, UniqueConfig{Key: "facts"}, logx.Nop())
	m, err := u.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m.ID != "3" {
		t.Fatalf("got id %q, want 3", m.ID)
	}
	if store.saves != 0 {
		t.Fatalf("Next must not persist")
	}
	if err := u.MarkSeen(ctx, m.ID); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if got := store.data["facts"]; len(got) != 3 || got[2] != "3" {
		t.Fatalf("persisted=%v", got)
	}
}

func TestUniqueGivesUpAfterRefetches(t *testing.T) {
	t.Parallel()
	var calls int
	src := SourceFunc(func(context.Context) (Message, error) {
		calls++
		return Message{ID: "dup"}, nil
	})
	store := &memSeenStore{data: map[string][]string{"k": {"dup"}}}
	u := NewUnique(src, store, UniqueConfig{Key: "k", Refetches: 5}, logx.Nop())
	m, err := u.Next(context.Background())
	if err != nil || m.ID != "dup" {
		t.Fatalf("m=%+v err=%v", m, err)
	}
	if calls != 6 {
		t.Fatalf("calls=%d, want 1 fetch + 5 refetches", calls)
	}
}

func TestChainFallsBack(t *testing.T) {
	t.Parallel()
	failing := SourceFunc(func(context.Context) (Message, error) { return Message{}, errors.New("down") })
	c := NewChain(logx.Nop(), failing, NewStatic([]string{"fallback"}, ""))
	m, err := c.Next(context.Background())
	if err != nil || m.Text != "fallback" {
		t.Fatalf("m=%+v err=%v", m, err)
	}

	c = NewChain(logx.Nop(), failing, failing)
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err=%v, want ErrNoContent", err)
	}
}

func TestStaticEmpty(t *testing.T) {
	t.Parallel()
	if _, err := NewStatic([]string{" ", ""}, "").Next(context.Background()); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err=%v", err)
	}
	m, _ := NewStatic([]string{"x"}, "HTML").Next(context.Background())
	if m.ID == "" || m.ParseMode != "HTML" {
		t.Fatalf("m=%+v", m)
	}
}

func TestHTTPSourceRendersAndRetries(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"q":" Stay hungry. ","a":"Steve Jobs","id":"q-9"}]`)
	}))
	defer srv.Close()

	src, err := NewHTTP(HTTPConfig{
		URL:          srv.URL,
		Template:     `{{with index . 0}}{{trim .q}} - {{.a}}{{end}}`,
		IDTemplate:   `{{(index . 0).id}}`,
		Retries:      2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	m, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m.Text != "Stay hungry. - Steve Jobs" || m.ID != "q-9" {
		t.Fatalf("m=%+v", m)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d, want 2", hits.Load())
	}
}

func TestHTTPSourceErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	src, err := NewHTTP(HTTPConfig{URL: srv.URL, Template: `{{.text}}`}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if _, err := src.Next(context.Background()); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := NewHTTP(HTTPConfig{URL: srv.URL, Template: `{{.text`}, logx.Nop()); err == nil {
		t.Fatalf("expected template error")
	}
	if _, err := NewHTTP(HTTPConfig{Template: `x`}, logx.Nop()); err == nil {
		t.Fatalf("expected url error")
	}
}

func TestTriviaBuildsQuizPoll(t *testing.T) {
	t.Parallel()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"response_code":0,"results":[{"type":"multiple","difficulty":"easy",`+
			`"category":"General%20Knowledge","question":"What%20is%20H2O%3F","correct_answer":"Water",`+
			`"incorrect_answers":["Gold","Salt","Oxygen"]}]}`)
	}))
	defer srv.Close()

	src, err := NewTrivia(TriviaConfig{URL: srv.URL, Category: 9, Difficulty: "Easy"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTrivia: %v", err)
	}
	// Reverse instead of a random shuffle: Water moves from last to first.
	src.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	m, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	for _, want := range []string{"amount=1", "category=9", "difficulty=easy", "encode=url3986", "type=multiple"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query %q lacks %s", query, want)
		}
	}
	p := m.Poll
	if p == nil || !p.Quiz || p.Question != "What is H2O?" || m.Text != p.Question {
		t.Fatalf("m=%+v", m)
	}
	if strings.Join(p.Options, ",") != "Water,Oxygen,Salt,Gold" || p.Options[p.CorrectOption] != "Water" {
		t.Fatalf("options=%v correct=%d", p.Options, p.CorrectOption)
	}
	if p.Explanation != "Category: General Knowledge\nDifficulty: Easy" {
		t.Fatalf("explanation=%q", p.Explanation)
	}
	if !strings.HasPrefix(m.ID, "trivia:") {
		t.Fatalf("id=%q", m.ID)
	}
}

func TestTriviaNoResults(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response_code":1,"results":[]}`)
	}))
	defer srv.Close()
	src, err := NewTrivia(TriviaConfig{URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTrivia: %v", err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err=%v, want ErrNoContent", err)
	}
}

func TestStaticPolls(t *testing.T) {
	t.Parallel()
	src := NewStaticPolls([]kit.Poll{
		{Question: "Capital of France?", Options: []string{"London", "Paris"}, Quiz: true, CorrectOption: 1},
		{Question: "no options"},
	})
	m, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m.Poll == nil || m.Poll.Options[m.Poll.CorrectOption] != "Paris" || !strings.HasPrefix(m.ID, "static:") {
		t.Fatalf("m=%+v", m)
	}
	m.Poll.Options[0] = "changed"
	again, _ := src.Next(context.Background())
	if again.Poll.Options[0] != "London" {
		t.Fatalf("returned poll shares state with the source")
	}
}
