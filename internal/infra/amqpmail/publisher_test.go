package amqpmail

import (
	"context"
	"encoding/json"
	"errors"
	"hookq/internal/ports"
	"testing"

	"github.com/streadway/amqp"
)

type fakeChannel struct {
	declared  string
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = name
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestSendPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "mail")
	if err != nil {
		t.Fatal(err)
	}
	if ch.declared != "mail" {
		t.Fatalf("declared %q", ch.declared)
	}

	email := ports.Email{To: "a@b.c", Subject: "Hi", Template: "welcome", Text: "hello", HTML: "<p>hello</p>"}
	if err := p.Send(context.Background(), email); err != nil {
		t.Fatal(err)
	}
	if len(ch.published) != 1 || ch.keys[0] != "mail" {
		t.Fatalf("published %d to %v", len(ch.published), ch.keys)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Errorf("msg = %+v", msg)
	}
	var got ports.Email
	if err := json.Unmarshal(msg.Body, &got); err != nil || got != email {
		t.Errorf("body = %s (%v)", msg.Body, err)
	}
}

func TestSendPropagatesErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p, _ := NewPublisher(ch, "mail")
	if err := p.Send(context.Background(), ports.Email{To: "x"}); err == nil {
		t.Fatal("expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Send(ctx, ports.Email{To: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
