package adapter

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "dailycast/internal/transport"
)

func TestTranslateErrorGone(t *testing.T) {
	t.Parallel()
	cases := []error{
		tele.ErrBlockedByUser,
		tele.ErrUserIsDeactivated,
		tele.ErrChatNotFound,
		tele.ErrNotStartedByUser,
		tele.NewError(400, "Bad Request: PEER_ID_INVALID"),
		tele.NewError(403, "Forbidden: something new"),
	}
	for _, in := range cases {
		got := translateError(in)
		if !errors.Is(got, kit.ErrRecipientGone) {
			t.Fatalf("translateError(%v) = %v, want ErrRecipientGone", in, got)
		}
		if !errors.Is(got, in) {
			t.Fatalf("translateError(%v) lost the original error", in)
		}
	}
}

func TestTranslateErrorThrottle(t *testing.T) {
	t.Parallel()
	got := translateError(tele.NewError(429, "Too Many Requests: retry later"))
	var te *kit.ThrottleError
	if !errors.As(got, &te) {
		t.Fatalf("expected ThrottleError, got %T", got)
	}
	if te.RetryAfter != time.Second {
		t.Fatalf("RetryAfter=%s, want 1s", te.RetryAfter)
	}
}

func TestTranslateErrorPassthrough(t *testing.T) {
	t.Parallel()
	if translateError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	in := errors.New("network down")
	if got := translateError(in); got != in {
		t.Fatalf("unknown error changed: %v", got)
	}
	if got := translateError(tele.NewError(400, "Bad Request: message is too long")); errors.Is(got, kit.ErrRecipientGone) {
		t.Fatalf("plain bad request must not be gone")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}
	long := "aaaa\nbbbb\ncccc\ndddd"
	got := splitText(long, 10, "")
	if len(got) < 2 {
		t.Fatalf("expected split, got %q", got)
	}
	for _, c := range got {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
}

func TestSplitTextHTMLAvoidsTags(t *testing.T) {
	t.Parallel()
	got := splitText("abc <b>bold</b>", 6, "HTML")
	if len(got) != 3 || got[0] != "abc " || got[1] != "<b>bol" || got[2] != "d</b>" {
		t.Fatalf("got %q", got)
	}
}
