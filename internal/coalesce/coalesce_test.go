package coalesce

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to complete")
	}
}

type gatedTask struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func newGatedTask() *gatedTask {
	return &gatedTask{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedTask) run(context.Context) error {
	g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	return nil
}

func TestTriggersDuringRunCoalesceIntoOneFollowUp(t *testing.T) {
	task := newGatedTask()
	c := New("test", task.run, log.New(&bytes.Buffer{}, "", 0))
	ctx := context.Background()

	first := c.Trigger(ctx)
	<-task.started
	if got := c.State(); got != Running {
		t.Fatalf("State() = %v, want running", got)
	}

	var pending []<-chan struct{}
	for i := 0; i < 5; i++ {
		pending = append(pending, c.Trigger(ctx))
	}
	if got := c.State(); got != RunningWithPending {
		t.Fatalf("State() = %v, want running_with_pending", got)
	}
	for i := 1; i < len(pending); i++ {
		if pending[i] != pending[0] {
			t.Fatal("expected all triggers during a run to share one continuation")
		}
	}
	if pending[0] == first {
		t.Fatal("continuation must differ from the in-flight run")
	}

	close(task.release)
	waitClosed(t, first)
	for _, ch := range pending {
		waitClosed(t, ch)
	}

	if got := task.calls.Load(); got != 2 {
		t.Fatalf("task ran %d times, want 2", got)
	}
	if got := c.Runs(); got != 2 {
		t.Fatalf("Runs() = %d, want 2", got)
	}
	if got := c.State(); got != Idle {
		t.Fatalf("State() = %v, want idle", got)
	}
}

func TestSerialTriggersRunEachTime(t *testing.T) {
	var calls atomic.Int64
	c := New("serial", func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	for i := 0; i < 5; i++ {
		waitClosed(t, c.Trigger(context.Background()))
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("task ran %d times, want 5", got)
	}
}

func TestContinuationCompletesAfterSecondRun(t *testing.T) {
	task := newGatedTask()
	c := New("order", task.run, nil)

	c.Trigger(context.Background())
	<-task.started
	next := c.Trigger(context.Background())

	select {
	case <-next:
		t.Fatal("continuation closed before the follow-up ran")
	default:
	}

	close(task.release)
	waitClosed(t, next)
	if got := task.calls.Load(); got != 2 {
		t.Fatalf("task ran %d times before continuation closed, want 2", got)
	}
}

func TestFailuresAreLoggedAndDoNotBlock(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := log.New(&lockedWriter{mu: &mu, w: &buf}, "", 0)

	var calls atomic.Int64
	c := New("reconcile", func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("boom")
		}
		return nil
	}, logger)

	for i := 0; i < 3; i++ {
		waitClosed(t, c.Trigger(context.Background()))
	}

	if got := calls.Load(); got != 3 {
		t.Fatalf("task ran %d times, want 3", got)
	}
	if got := c.Failures(); got != 2 {
		t.Fatalf("Failures() = %d, want 2", got)
	}
	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if !strings.Contains(out, "reconcile: store unavailable") {
		t.Fatalf("expected error to be logged, got %q", out)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected panic to be logged, got %q", out)
	}
}

func TestRunIgnoresTriggerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr atomic.Value
	c := New("detached", func(ctx context.Context) error {
		sawErr.Store(ctx.Err() == nil)
		return nil
	}, nil)

	waitClosed(t, c.Trigger(ctx))
	if ok, _ := sawErr.Load().(bool); !ok {
		t.Fatal("run observed the trigger's cancellation")
	}
}

func TestCoalescersAreIndependent(t *testing.T) {
	a := newGatedTask()
	ca := New("a", a.run, nil)

	var bCalls atomic.Int64
	cb := New("b", func(context.Context) error {
		bCalls.Add(1)
		return nil
	}, nil)

	ca.Trigger(context.Background())
	<-a.started

	waitClosed(t, cb.Trigger(context.Background()))
	waitClosed(t, cb.Trigger(context.Background()))
	if got := bCalls.Load(); got != 2 {
		t.Fatalf("independent task ran %d times, want 2", got)
	}
	if got := ca.State(); got != Running {
		t.Fatalf("first coalescer state = %v, want running", got)
	}
	close(a.release)
}

func TestRunHonorsWaitContext(t *testing.T) {
	task := newGatedTask()
	c := New("wait", task.run, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	close(task.release)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
