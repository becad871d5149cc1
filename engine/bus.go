package engine

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
)

// Publisher delivers logs to observers once the operation producing them has committed.
type Publisher interface {
	Publish(logs ...Log)
}

// Bus fans logs out to subscribers using a go-ethereum feed. Publish blocks until
// every subscriber has accepted the log, so subscribers should use buffered channels.
type Bus struct {
	mu   sync.Mutex
	feed event.FeedOf[Log]
	seq  atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{}
}

// Publish stamps each log with the next sequence number and sends it to all subscribers.
// Logs published by a single call are delivered contiguously.
func (b *Bus) Publish(logs ...Log) {
	if len(logs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range logs {
		l.Seq = b.seq.Add(1)
		b.feed.Send(l)
	}
}

// Subscribe registers ch to receive every subsequently published log.
func (b *Bus) Subscribe(ch chan<- Log) event.Subscription {
	return b.feed.Subscribe(ch)
}

// LastSeq returns the sequence number of the most recently published log.
func (b *Bus) LastSeq() uint64 {
	return b.seq.Load()
}

type discardPublisher struct{}

func (discardPublisher) Publish(...Log) {}

// DiscardPublisher drops every log. It is used when a component is built without a bus.
var DiscardPublisher Publisher = discardPublisher{}
