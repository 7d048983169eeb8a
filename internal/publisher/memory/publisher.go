// Package memory keeps run notifications in process. It backs development
// setups without a Pub/Sub project and the runner tests.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher is an in-process scraper.Publisher. The zero value is usable.
type Publisher struct {
	mu     sync.RWMutex
	log    []Message
	counts map[string]int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{counts: make(map[string]int)}
}

// Publish appends payload to the log. IDs count up per topic, so the first
// message on "scrape-runs" is "scrape-runs/1".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[string]int)
	}
	p.counts[topic]++
	id := topic + "/" + strconv.Itoa(p.counts[topic])
	p.log = append(p.log, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns every recorded message in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.log...)
}

// OnTopic returns the messages published to topic.
func (p *Publisher) OnTopic(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.log {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
