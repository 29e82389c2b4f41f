package perps

import (
	"sync"
	"time"
)

const (
	EventPoolAdded        = "pool_added"
	EventTokenAdded       = "token_added"
	EventTestOraclePrice  = "test_oracle_price"
	EventLiquidityAdded   = "liquidity_added"
	EventLiquidityRemoved = "liquidity_removed"
	EventSwap             = "swap"
)

type Event struct {
	Type string `json:"type"`
	Pool string `json:"pool"`
	Data any    `json:"data,omitempty"`
	TS   int64  `json:"ts"`
}

// Channel is the subscription name events of pool are published under.
func Channel(pool string) string {
	return "pool." + pool
}

// Broadcaster fans events out to subscribers. Slow subscribers lose events
// rather than block the engine.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(event Event) {
	if event.TS == 0 {
		event.TS = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
