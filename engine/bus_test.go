package engine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishStampsSequence(t *testing.T) {
	bus := NewBus()
	ch := make(chan Log, 8)
	sub := bus.Subscribe(ch)
	defer sub.Unsubscribe()

	emitter := common.HexToAddress("0x01")
	bus.Publish(
		Log{Emitter: emitter, Event: Paused{Account: emitter}},
		Log{Emitter: emitter, Event: Unpaused{Account: emitter}},
	)
	bus.Publish(Log{Emitter: emitter, Event: Sync{}})

	var got []Log
	for i := 0; i < 3; i++ {
		select {
		case l := <-ch:
			got = append(got, l)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for log")
		}
	}

	require.Len(t, got, 3)
	for i, l := range got {
		assert.Equal(t, uint64(i+1), l.Seq)
	}
	assert.Equal(t, EventPaused, got[0].Event.Name())
	assert.Equal(t, EventUnpaused, got[1].Event.Name())
	assert.Equal(t, EventSync, got[2].Event.Name())
	assert.Equal(t, uint64(3), bus.LastSeq())
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish()
	assert.Zero(t, bus.LastSeq())

	bus.Publish(Log{Event: Sync{}})
	assert.Equal(t, uint64(1), bus.LastSeq())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch := make(chan Log, 1)
	sub := bus.Subscribe(ch)
	sub.Unsubscribe()

	bus.Publish(Log{Event: Sync{}})
	select {
	case l := <-ch:
		t.Fatalf("unexpected log after unsubscribe: %+v", l)
	default:
	}
}

func TestDiscardPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		DiscardPublisher.Publish(Log{Event: Sync{}})
	})
}
