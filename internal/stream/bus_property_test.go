package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"portfolio-state/internal/models"
)

// Property: every subscriber of a topic observes a single publisher's events
// in publish order, and none are lost.
func TestProperty_SubscribersObservePublishOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("per-topic publish order is preserved", prop.ForAll(
		func(subscriberCount int, eventCount int) bool {
			bus := NewBus(zerolog.Nop())

			received := make([][]string, subscriberCount)
			var mu sync.Mutex
			for i := 0; i < subscriberCount; i++ {
				idx := i
				bus.Subscribe(TopicFills, func(e Event) {
					mu.Lock()
					received[idx] = append(received[idx], e.(FillEvent).Fill.FillID)
					mu.Unlock()
				})
			}

			for i := 0; i < eventCount; i++ {
				bus.Publish(TopicFills, FillEvent{Fill: models.Fill{FillID: fmt.Sprintf("F%d", i)}})
			}

			for _, ids := range received {
				if len(ids) != eventCount {
					return false
				}
				for i, id := range ids {
					if id != fmt.Sprintf("F%d", i) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// Property: history never exceeds its capacity and always holds the most
// recent events, oldest first.
func TestProperty_HistoryIsBoundedAndRecent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("ring keeps the newest capacity events", prop.ForAll(
		func(capacity int, eventCount int) bool {
			bus := NewBusWithConfig(BusConfig{HistorySize: capacity}, zerolog.Nop())
			for i := 0; i < eventCount; i++ {
				bus.Publish(TopicFills, FillEvent{Fill: models.Fill{FillID: fmt.Sprintf("F%d", i)}})
			}

			recent := bus.Recent(TopicFills, 0)
			want := eventCount
			if want > capacity {
				want = capacity
			}
			if len(recent) != want {
				return false
			}
			first := eventCount - want
			for i, env := range recent {
				if env.Event.(FillEvent).Fill.FillID != fmt.Sprintf("F%d", first+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}
