package broadcast

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"dailycast/internal/directory"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDeliverer returns a fixed outcome per recipient id.
type scriptedDeliverer struct {
	mu       sync.Mutex
	outcomes map[int64]Outcome
	calls    map[int64]int
}

func newScripted(outcomes map[int64]Outcome) *scriptedDeliverer {
	return &scriptedDeliverer{outcomes: outcomes, calls: map[int64]int{}}
}

func (d *scriptedDeliverer) Send(_ context.Context, id int64, _ Message) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[id]++
	if o, ok := d.outcomes[id]; ok {
		return o
	}
	return Outcome{Kind: Delivered}
}

type countingRemover struct {
	mu      sync.Mutex
	removed map[int64]int
	err     error
}

func (r *countingRemover) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed == nil {
		r.removed = map[int64]int{}
	}
	r.removed[id]++
	return r.err
}

func seqOf(ids ...int64) iter.Seq2[directory.Recipient, error] {
	return func(yield func(directory.Recipient, error) bool) {
		for _, id := range ids {
			if !yield(directory.Recipient{ID: id}, nil) {
				return
			}
		}
	}
}

func newTestEngine(d Deliverer, r Remover) *Engine {
	return NewEngine(d, r, EngineConfig{}, logx.Nop())
}

func assertConservation(t *testing.T, rep Report) {
	t.Helper()
	if got := rep.Delivered + rep.Gone + rep.Transient + rep.Skipped; got != rep.Total {
		t.Fatalf("conservation broken: %d+%d+%d+%d != %d", rep.Delivered, rep.Gone, rep.Transient, rep.Skipped, rep.Total)
	}
}

func TestEngineMixedOutcomes(t *testing.T) {
	t.Parallel()
	const a, b, c, d = 1, 2, 3, 4
	del := newScripted(map[int64]Outcome{
		b: {Kind: RecipientGone, Err: kit.ErrRecipientGone},
		d: {Kind: TransientFailure, Err: errors.New("network")},
	})
	rem := &countingRemover{}
	rep, err := newTestEngine(del, rem).Run(context.Background(), "quotes", Message{Text: "hi"}, seqOf(a, b, c, d))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Delivered != 2 || rep.Gone != 1 || rep.Transient != 1 || rep.Total != 4 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Incomplete {
		t.Fatalf("complete pass marked incomplete")
	}
	if len(rem.removed) != 1 || rem.removed[b] != 1 {
		t.Fatalf("removed=%v, want exactly one remove(B)", rem.removed)
	}
	if del.calls[d] != 1 {
		t.Fatalf("transient recipient sent %d times, want 1", del.calls[d])
	}
	assertConservation(t, rep)
}

func TestEngineEmptyDirectory(t *testing.T) {
	t.Parallel()
	rep, err := newTestEngine(newScripted(nil), &countingRemover{}).Run(context.Background(), "empty", Message{}, seqOf())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Total != 0 || rep.Delivered != 0 || rep.Gone != 0 || rep.Transient != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.ID == "" {
		t.Fatalf("report has no id")
	}
}

func TestEngineDuplicateGoneRemovedOnce(t *testing.T) {
	t.Parallel()
	del := newScripted(map[int64]Outcome{7: {Kind: RecipientGone}})
	rem := &countingRemover{}
	rep, err := newTestEngine(del, rem).Run(context.Background(), "dup", Message{}, seqOf(7, 8, 7, 7))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Gone != 3 || rep.Delivered != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rem.removed[7] != 1 {
		t.Fatalf("remove(7) called %d times, want 1", rem.removed[7])
	}
	if del.calls[7] != 1 {
		t.Fatalf("gone recipient re-sent: %d calls", del.calls[7])
	}
	assertConservation(t, rep)
}

func TestEngineRemoveFailureStillCountsGone(t *testing.T) {
	t.Parallel()
	del := newScripted(map[int64]Outcome{1: {Kind: RecipientGone}})
	rem := &countingRemover{err: errors.New("db down")}
	rep, err := newTestEngine(del, rem).Run(context.Background(), "x", Message{}, seqOf(1, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Gone != 1 || rep.Delivered != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestEngineSkipsMalformed(t *testing.T) {
	t.Parallel()
	del := newScripted(nil)
	rep, err := newTestEngine(del, &countingRemover{}).Run(context.Background(), "x", Message{}, seqOf(0, 1, -5, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != 2 || rep.Delivered != 2 || rep.Total != 4 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if del.calls[0] != 0 {
		t.Fatalf("malformed recipient was sent to")
	}
	assertConservation(t, rep)
}

func TestEngineDirectoryFailureMidway(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	seq := func(yield func(directory.Recipient, error) bool) {
		for id := int64(1); id <= 20; id++ {
			if id == 6 {
				yield(directory.Recipient{}, boom)
				return
			}
			if !yield(directory.Recipient{ID: id}, nil) {
				return
			}
		}
	}
	rep, err := newTestEngine(newScripted(nil), &countingRemover{}).Run(context.Background(), "facts", Message{}, seq)
	if !errors.Is(err, ErrDirectorySource) || !errors.Is(err, boom) {
		t.Fatalf("err=%v, want ErrDirectorySource wrapping cause", err)
	}
	if !rep.Incomplete || rep.Total != 5 || rep.Delivered != 5 {
		t.Fatalf("unexpected partial report: %+v", rep)
	}
	assertConservation(t, rep)
}

func TestEngineCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	del := delivererFunc(func(context.Context, int64, Message) Outcome {
		n++
		if n == 3 {
			cancel()
		}
		return Outcome{Kind: Delivered}
	})
	rep, err := newTestEngine(del, &countingRemover{}).Run(ctx, "x", Message{}, seqOf(1, 2, 3, 4, 5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if !rep.Incomplete || rep.Delivered != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	assertConservation(t, rep)
}

func TestEngineProgress(t *testing.T) {
	t.Parallel()
	ids := make([]int64, 45)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	var seen []int
	obs := ObserverFunc(func(p Progress) { seen = append(seen, p.Processed) })
	eng := NewEngine(newScripted(nil), &countingRemover{}, EngineConfig{ProgressEvery: 20}, logx.Nop())
	if _, err := eng.Run(context.Background(), "x", Message{}, seqOf(ids...), WithObserver(obs)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{20, 40, 45}
	if len(seen) != len(want) {
		t.Fatalf("progress=%v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress=%v, want %v", seen, want)
		}
	}
}

func TestEngineClockAndRecorder(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ticks := 0
	clock := func() time.Time {
		ticks++
		return start.Add(time.Duration(ticks-1) * time.Second)
	}
	rec := &memRecorder{}
	eng := NewEngine(newScripted(map[int64]Outcome{2: {Kind: TransientFailure}}), &countingRemover{}, EngineConfig{}, logx.Nop(),
		WithClock(clock), WithRecorder(rec))
	rep, _ := eng.Run(context.Background(), "x", Message{}, seqOf(1, 2))
	if !rep.StartedAt.Equal(start) || rep.Duration != time.Second {
		t.Fatalf("StartedAt=%s Duration=%s", rep.StartedAt, rep.Duration)
	}
	if rec.passes != 1 || rec.kinds[Delivered] != 1 || rec.kinds[TransientFailure] != 1 {
		t.Fatalf("recorder: %+v", rec)
	}
}

func TestEnginePacing(t *testing.T) {
	t.Parallel()
	eng := NewEngine(newScripted(nil), &countingRemover{}, EngineConfig{Pacing: 20 * time.Millisecond}, logx.Nop())
	start := time.Now()
	if _, err := eng.Run(context.Background(), "x", Message{}, seqOf(1, 2, 3, 4)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// burst 1: the first send is immediate, the next three wait one interval each
	if el := time.Since(start); el < 55*time.Millisecond {
		t.Fatalf("pacing not applied, elapsed %s", el)
	}
}

type memRecorder struct {
	kinds  map[Kind]int
	passes int
}

func (r *memRecorder) Outcome(_ string, k Kind) {
	if r.kinds == nil {
		r.kinds = map[Kind]int{}
	}
	r.kinds[k]++
}

func (r *memRecorder) Pass(Report) { r.passes++ }

type delivererFunc func(ctx context.Context, id int64, msg Message) Outcome

func (f delivererFunc) Send(ctx context.Context, id int64, msg Message) Outcome {
	return f(ctx, id, msg)
}
