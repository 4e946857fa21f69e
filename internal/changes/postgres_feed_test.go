package changes

import (
	"bytes"
	"context"
	"errors"
	"log"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type scriptedConn struct {
	payloads []string
	err      error
	closed   bool
}

func (c *scriptedConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	if len(c.payloads) > 0 {
		payload := c.payloads[0]
		c.payloads = c.payloads[1:]
		return &pgconn.Notification{Channel: Channel, Payload: payload}, nil
	}
	if c.err != nil {
		return nil, c.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConn) Close(context.Context) error {
	c.closed = true
	return nil
}

// dialScript returns each entry in turn: a *scriptedConn or an error.
func dialScript(steps ...any) (func(ctx context.Context) (listenConn, error), func() int) {
	var mu sync.Mutex
	calls := 0
	dial := func(ctx context.Context) (listenConn, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > len(steps) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		step := steps[n-1]
		if err, ok := step.(error); ok {
			return nil, err
		}
		return step.(*scriptedConn), nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	return dial, count
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newScriptedFeed(logs *lockedBuffer, steps ...any) (*PostgresFeed, func() int) {
	dial, count := dialScript(steps...)
	feed := NewPostgresFeed("", log.New(logs, "", 0))
	feed.dial = dial
	feed.minBackoff = time.Millisecond
	feed.maxBackoff = 8 * time.Millisecond
	return feed, count
}

func collectEvents(t *testing.T, feed *PostgresFeed, want int) []Event {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 16)
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, func(ev Event) { received <- ev }) }()

	var events []Event
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-received:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events: %+v", len(events), want, events)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	return events
}

func TestPostgresFeedDeliversNotifications(t *testing.T) {
	conn := &scriptedConn{payloads: []string{
		`{"kind":"removed","nodeId":"n1"}`,
		`not json`,
		`{"kind":"moved","nodeId":"n2"}`,
	}}
	feed, _ := newScriptedFeed(&lockedBuffer{}, conn)

	events := collectEvents(t, feed, 2)
	if events[0] != (Event{Kind: KindRemoved, NodeID: "n1"}) || events[1] != (Event{Kind: KindMoved, NodeID: "n2"}) {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestPostgresFeedResyncsAfterReconnect(t *testing.T) {
	dropped := errors.New("connection reset")
	first := &scriptedConn{payloads: []string{`{"kind":"removed","nodeId":"n1"}`}, err: dropped}
	second := &scriptedConn{}
	feed, _ := newScriptedFeed(&lockedBuffer{}, first, errors.New("connection refused"), second)

	events := collectEvents(t, feed, 2)
	if events[0].Kind != KindRemoved {
		t.Fatalf("expected the live notification first, got %+v", events[0])
	}
	if events[1] != (Event{Kind: KindChanged}) || !events[1].Relevant() {
		t.Fatalf("expected a resync event after reconnect, got %+v", events[1])
	}
	if !first.closed {
		t.Fatal("dropped connection should be closed")
	}
}

func TestPostgresFeedResetsBackoffAfterListening(t *testing.T) {
	refused := errors.New("connection refused")
	dropped := &scriptedConn{err: errors.New("connection reset")}
	logs := &lockedBuffer{}
	feed, count := newScriptedFeed(logs, refused, refused, dropped, refused)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, func(Event) {}) }()

	deadline := time.Now().Add(2 * time.Second)
	for count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if count() < 5 {
		t.Fatalf("expected five dial attempts, got %d", count())
	}

	var delays []string
	for _, m := range regexp.MustCompile(`retry in (\S+)\)`).FindAllStringSubmatch(logs.String(), -1) {
		delays = append(delays, m[1])
	}
	want := []string{"1ms", "2ms", "1ms", "2ms"}
	if len(delays) != len(want) {
		t.Fatalf("retry delays %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("retry delays %v, want %v", delays, want)
		}
	}
}
