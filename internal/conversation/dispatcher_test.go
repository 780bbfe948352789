package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/athenasql/athenasql/internal/query"
)

type gatedHandler struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	handled atomic.Int32
	panicOn string

	mu      sync.Mutex
	order   []string
	ctxErrs []error
	hasDue  []bool
}

func (h *gatedHandler) HandleEvent(ctx context.Context, event Event) error {
	if event.Text == h.panicOn && h.panicOn != "" {
		panic("handler exploded")
	}
	current := h.active.Add(1)
	for {
		peak := h.peak.Load()
		if current <= peak || h.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	<-h.release
	h.mu.Lock()
	h.order = append(h.order, event.ConversationID+":"+event.Text)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	_, due := ctx.Deadline()
	h.hasDue = append(h.hasDue, due)
	h.mu.Unlock()
	h.active.Add(-1)
	h.handled.Add(1)
	return &Error{Kind: KindAgent, Op: "ask agent", Err: errors.New("boom")}
}

func (h *gatedHandler) handledOrder() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcherBoundsInFlightEvents(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{})}
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 2}, nil)

	for i := 0; i < 5; i++ {
		if err := dispatcher.Dispatch(context.Background(), Event{ConversationID: fmt.Sprintf("C%d", i)}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	waitFor(t, func() bool { return handler.active.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := handler.active.Load(); got != 2 {
		t.Fatalf("active handlers = %d, want 2", got)
	}

	close(handler.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if handler.handled.Load() != 5 {
		t.Fatalf("handled = %d, want 5", handler.handled.Load())
	}
	if handler.peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", handler.peak.Load())
	}
}

func TestDispatcherKeepsArrivalOrderPerConversation(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{})}
	close(handler.release)
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 8}, nil)

	for i := 0; i < 50; i++ {
		for _, conversationID := range []string{"C1", "C2"} {
			if err := dispatcher.Dispatch(context.Background(), Event{ConversationID: conversationID, Text: fmt.Sprint(i)}); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
		}
	}
	if err := dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	next := map[string]int{}
	for _, entry := range handler.handledOrder() {
		conversationID, text, _ := strings.Cut(entry, ":")
		if text != fmt.Sprint(next[conversationID]) {
			t.Fatalf("%s handled %s, want %d", conversationID, text, next[conversationID])
		}
		next[conversationID]++
	}
	if next["C1"] != 50 || next["C2"] != 50 {
		t.Fatalf("handled counts = %#v", next)
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{})}
	close(handler.release)
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 1}, nil)

	if err := dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), Event{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Dispatch() error = %v, want ErrDispatcherClosed", err)
	}
}

func TestDispatcherShutdownHonoursDeadlineWithSaturatedSlots(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{})}
	defer close(handler.release)
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 1}, nil)

	for _, conversationID := range []string{"C1", "C2", "C3"} {
		if err := dispatcher.Dispatch(context.Background(), Event{ConversationID: conversationID}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	waitFor(t, func() bool { return handler.active.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	returned := make(chan error, 1)
	go func() { returned <- dispatcher.Shutdown(ctx) }()

	select {
	case err := <-returned:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown() ignored its deadline")
	}
}

func TestDispatcherDetachesHandlersFromCallerContext(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{})}
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 1, EventTimeout: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := dispatcher.Dispatch(ctx, Event{ConversationID: "C1"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitFor(t, func() bool { return handler.active.Load() == 1 })
	cancel()
	close(handler.release)
	if err := dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.ctxErrs[0] != nil {
		t.Fatalf("handler ctx error = %v, want live context after caller cancel", handler.ctxErrs[0])
	}
	if !handler.hasDue[0] {
		t.Fatal("handler ctx has no event deadline")
	}
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	handler := &gatedHandler{release: make(chan struct{}), panicOn: "explode"}
	close(handler.release)
	dispatcher := NewDispatcher(handler, DispatcherConfig{MaxInFlight: 1}, nil)

	if err := dispatcher.Dispatch(context.Background(), Event{Text: "explode"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), Event{Text: "fine"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if handler.handled.Load() != 1 {
		t.Fatalf("handled = %d, want 1", handler.handled.Load())
	}
}

func TestDispatchedSelectionAlwaysPrecedesQuestion(t *testing.T) {
	for i := 0; i < 100; i++ {
		h := newHarness(t)
		h.executor.result = query.Result{Columns: []string{"count"}, Rows: [][]any{{int64(1)}}}
		h.gateway.answer = "(SELECT COUNT(*) FROM users)"
		dispatcher := NewDispatcher(h.service, DispatcherConfig{MaxInFlight: 4}, nil)

		if err := dispatcher.Dispatch(context.Background(), Event{Kind: EventAction, ConversationID: channel, ActionID: ActionTabular, Timestamp: "1.0"}); err != nil {
			t.Fatalf("Dispatch(action) error = %v", err)
		}
		if err := dispatcher.Dispatch(context.Background(), Event{Kind: EventMessage, ConversationID: channel, Text: "how many users?", Timestamp: "2.0"}); err != nil {
			t.Fatalf("Dispatch(question) error = %v", err)
		}
		if err := dispatcher.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}

		for _, text := range h.delivery.texts() {
			if text == h.service.GuidanceText() {
				t.Fatalf("iteration %d: question handled before the selection", i)
			}
		}
		if h.delivery.last().kind != "file" {
			t.Fatalf("iteration %d: last message = %#v", i, h.delivery.last())
		}
	}
}
