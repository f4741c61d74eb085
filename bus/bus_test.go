package bus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/internal/metrics"
)

func TestBus_PublishDelivery(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	var got []Event
	b.Subscribe(EventTaskRouted, func(e Event) { got = append(got, e) })

	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{TaskID: "t1", AgentID: "a1"}))

	require.Len(t, got, 1)
	assert.Equal(t, EventTaskRouted, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.NotZero(t, got[0].Timestamp)

	payload, ok := got[0].Payload.(TaskRoutedPayload)
	require.True(t, ok)
	assert.Equal(t, "a1", payload.AgentID)
}

func TestBus_TypeIsolation(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	routed := 0
	cast := 0
	b.Subscribe(EventTaskRouted, func(Event) { routed++ })
	b.Subscribe(EventVoteCast, func(Event) { cast++ })

	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{}))
	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{}))
	b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{}))

	assert.Equal(t, 2, routed)
	assert.Equal(t, 1, cast)
}

func TestBus_DeliveryOrderPerSubscriber(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	var order []string
	b.Subscribe(EventVoteCast, func(e Event) {
		order = append(order, e.Payload.(VoteCastPayload).OptionID)
	})

	for i := 0; i < 50; i++ {
		b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{OptionID: fmt.Sprintf("o%02d", i)}))
	}

	require.Len(t, order, 50)
	for i, id := range order {
		assert.Equal(t, fmt.Sprintf("o%02d", i), id)
	}
}

func TestBus_PanicIsolation(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	delivered := 0
	b.Subscribe(EventHandoffInitiated, func(Event) { panic("bad handler") })
	b.Subscribe(EventHandoffInitiated, func(Event) { delivered++ })

	assert.NotPanics(t, func() {
		b.Publish(NewEvent(EventHandoffInitiated, "handoff", HandoffInitiatedPayload{}))
	})
	assert.Equal(t, 1, delivered)
}

func TestBus_Filter(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	matched := 0
	b.Subscribe(EventTaskRouted, func(Event) { matched++ }, SourceFilter("router-a"))

	b.Publish(NewEvent(EventTaskRouted, "router-a", TaskRoutedPayload{}))
	b.Publish(NewEvent(EventTaskRouted, "router-b", TaskRoutedPayload{}))

	assert.Equal(t, 1, matched)
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	count := 0
	id := b.Subscribe(EventVoteCast, func(Event) { count++ })
	b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{}))
	b.Unsubscribe(id)
	b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{}))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount(EventVoteCast))

	// Unknown IDs are a no-op.
	b.Unsubscribe("does-not-exist")
}

func TestBus_Clear(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	count := 0
	b.Subscribe(EventVoteCast, func(Event) { count++ })
	b.Subscribe(EventTaskRouted, func(Event) { count++ })
	b.Clear()

	b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{}))
	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{}))

	assert.Equal(t, 0, count)
}

func TestBus_ConcurrentPublishSafe(t *testing.T) {
	t.Parallel()
	b := New(zap.NewNop())

	var mu sync.Mutex
	total := 0
	b.Subscribe(EventAgentWorkloadUpdated, func(Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(NewEvent(EventAgentWorkloadUpdated, "registry",
					AgentWorkloadUpdatedPayload{AgentID: fmt.Sprintf("a%d", n), Workload: j}))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, total)
}

func TestBus_CountsPublishedEvents(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	b := New(zap.NewNop(), WithMetrics(metrics.NewCollector("test", reg, zap.NewNop())))

	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{}))
	b.Publish(NewEvent(EventTaskRouted, "router", TaskRoutedPayload{}))
	b.Publish(NewEvent(EventVoteCast, "voting", VoteCastPayload{}))

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "test_events_published_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "type" {
					counts[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), counts[string(EventTaskRouted)])
	assert.Equal(t, float64(1), counts[string(EventVoteCast)])
}
