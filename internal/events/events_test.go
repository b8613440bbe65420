package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"paykiosk.org/internal/ledger"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	if hub.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Subscribers())
	}

	evt := FromEntry(ledger.Entry{ID: "e1", AccountID: "acc-1", Amount: -250, BalanceAfter: 750, Sequence: 3})
	if err := hub.Publish(ctx, evt); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan EntryEvent{a, b} {
		select {
		case got := <-ch:
			if got.EntryID != "e1" || got.Type != TypeEntryApplied || got.BalanceAfter != 750 {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-a; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx)
	for i := 0; i < subscriberBuffer*2; i++ {
		_ = hub.Publish(ctx, EntryEvent{Sequence: uint64(i)})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected buffer to cap at %d, got %d", subscriberBuffer, len(ch))
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	evt := FromEntry(ledger.Entry{ID: "e9", AccountID: "acc-7", Amount: 100})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "acc-7" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var decoded EntryEvent
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.EntryID != "e9" || decoded.Amount != 100 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	hub := NewHub()
	m := Multi{hub, &KafkaPublisher{writer: &fakeWriter{err: boom}}, nil}
	if err := m.Publish(context.Background(), EntryEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
}
