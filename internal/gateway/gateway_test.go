package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saker-ai/openclaw-gateway/internal/control"
	"github.com/saker-ai/openclaw-gateway/internal/transport/codec"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	frames []string
}

func (r *recordingBroadcaster) Broadcast(event string, payload any) int {
	data, _ := json.Marshal(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.frames = append(r.frames, string(data))
	return 1
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestSubmitBroadcastsValidCommand(t *testing.T) {
	b := &recordingBroadcaster{}
	g := New(b, nil)

	res, err := g.Submit(context.Background(), []byte(`{"command":"setIntensity","value":2,"id":"i1"}`), "test")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.Duplicate || res.Delivered != 1 {
		t.Fatalf("result=%+v, want delivered once", res)
	}
	if b.events[0] != codec.EventCommand {
		t.Fatalf("event=%q, want %q", b.events[0], codec.EventCommand)
	}
	if b.frames[0] != `{"command":"setIntensity","value":2,"id":"i1"}` {
		t.Fatalf("frame=%s", b.frames[0])
	}
}

func TestSubmitDropsRepeatedID(t *testing.T) {
	b := &recordingBroadcaster{}
	g := New(b, nil)
	raw := []byte(`{"command":"setMood","value":"calm","id":"dup"}`)

	for i := 0; i < 2; i++ {
		if _, err := g.Submit(context.Background(), raw, "test"); err != nil {
			t.Fatalf("Submit #%d error: %v", i, err)
		}
	}
	if got := b.count(); got != 1 {
		t.Fatalf("broadcasts=%d, want 1", got)
	}

	// Only the most recent id is remembered.
	_, _ = g.Submit(context.Background(), []byte(`{"command":"setMood","value":"calm","id":"other"}`), "test")
	_, _ = g.Submit(context.Background(), raw, "test")
	if got := b.count(); got != 3 {
		t.Fatalf("broadcasts=%d, want 3", got)
	}
}

func TestSubmitRejectsInvalidWithoutBroadcast(t *testing.T) {
	b := &recordingBroadcaster{}
	g := New(b, nil)
	_, err := g.Submit(context.Background(), []byte(`{"command":"setMood","value":"angry"}`), "test")
	if !errors.Is(err, control.ErrInvalidValue) {
		t.Fatalf("Submit(angry) error=%v, want ErrInvalidValue", err)
	}
	if b.count() != 0 {
		t.Fatal("invalid command was broadcast")
	}
}

type chanSource chan []byte

func (c chanSource) Run(ctx context.Context, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-c:
			if !ok {
				return nil
			}
			deliver(raw)
		}
	}
}

func TestRunFeedsSourceIntoSubmit(t *testing.T) {
	b := &recordingBroadcaster{}
	g := New(b, nil)
	src := make(chanSource, 3)
	src <- []byte(`{"command":"setIsThinking","value":true,"id":"1"}`)
	src <- []byte(`garbage`)
	src <- []byte(`{"command":"setIsThinking","value":false,"id":"2"}`)
	close(src)

	if err := g.Run(context.Background(), src, "file"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := b.count(); got != 2 {
		t.Fatalf("broadcasts=%d, want 2", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Run(ctx, make(chanSource), "file"); err != nil {
		t.Fatalf("Run after cancel error=%v, want nil", err)
	}
}

type stallingBroadcaster struct {
	recordingBroadcaster
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingBroadcaster) Broadcast(event string, payload any) int {
	stall := false
	s.once.Do(func() { stall = true })
	if stall {
		close(s.entered)
		<-s.release
	}
	return s.recordingBroadcaster.Broadcast(event, payload)
}

func TestSubmitKeepsArrivalOrderBehindSlowBroadcast(t *testing.T) {
	b := &stallingBroadcaster{entered: make(chan struct{}), release: make(chan struct{})}
	g := New(b, nil)

	first := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), []byte(`{"command":"setMood","value":"excited","id":"one"}`), "http")
		first <- err
	}()
	<-b.entered

	second := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), []byte(`{"command":"setMood","value":"calm","id":"two"}`), "file")
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if got := b.count(); got != 0 {
		t.Fatalf("broadcasts while first is stalled=%d, want 0", got)
	}
	close(b.release)
	if err := <-first; err != nil {
		t.Fatalf("first Submit error: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second Submit error: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) != 2 || !strings.Contains(b.frames[0], `"one"`) || !strings.Contains(b.frames[1], `"two"`) {
		t.Fatalf("frames=%v, want one then two", b.frames)
	}
}
