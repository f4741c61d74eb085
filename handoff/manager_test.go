package handoff

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/types"
)

// failingCompressor fails on demand to exercise the atomicity guarantees.
type failingCompressor struct {
	failCompress   bool
	failDecompress bool
	inner          Compressor
}

func (f *failingCompressor) Compress(data []byte) ([]byte, error) {
	if f.failCompress {
		return nil, errors.New("compressor broken")
	}
	return f.inner.Compress(data)
}

func (f *failingCompressor) Decompress(data []byte) ([]byte, error) {
	if f.failDecompress {
		return nil, errors.New("decompressor broken")
	}
	return f.inner.Decompress(data)
}

func TestHandoff_InitiateAndComplete(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, zap.NewNop())

	// Scenario: {x:1} moves from agentA to agentB exactly once.
	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		TaskID:        "t1",
		Context:       map[string]any{"x": float64(1)},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.HandoffID)
	assert.Greater(t, res.CompressedSize, 0)

	restored, err := m.CompleteHandoff(res.HandoffID, "agentB")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, restored)

	_, err = m.CompleteHandoff(res.HandoffID, "agentB")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestHandoff_InitiateValidation(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, zap.NewNop())

	cases := []struct {
		name string
		req  Request
	}{
		{"missing source", Request{TargetAgentID: "b", Context: map[string]any{}}},
		{"missing target", Request{SourceAgentID: "a", Context: map[string]any{}}},
		{"same agent", Request{SourceAgentID: "a", TargetAgentID: "a", Context: map[string]any{}}},
		{"nil context", Request{SourceAgentID: "a", TargetAgentID: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.InitiateHandoff(tc.req)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation))
		})
	}
}

func TestHandoff_CompressionFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	initiated := 0
	b.Subscribe(bus.EventHandoffInitiated, func(bus.Event) { initiated++ })

	m := NewManager(&failingCompressor{failCompress: true, inner: NewGzipCompressor(-1)}, b, zap.NewNop())

	_, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"x": 1},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInternal))
	assert.Equal(t, 0, initiated, "no event for an aborted initiation")
	assert.Empty(t, m.records)
}

func TestHandoff_WrongTargetRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, zap.NewNop())

	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	_, err = m.CompleteHandoff(res.HandoffID, "agentC")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	// The record is still pending; the right target can still claim it.
	restored, err := m.CompleteHandoff(res.HandoffID, "agentB")
	require.NoError(t, err)
	assert.Equal(t, "v", restored["k"])
}

func TestHandoff_UnknownID(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, zap.NewNop())

	_, err := m.CompleteHandoff("ghost", "agentB")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestHandoff_DecompressionFailureIsTerminal(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	failed := 0
	b.Subscribe(bus.EventHandoffFailed, func(bus.Event) { failed++ })

	fc := &failingCompressor{inner: NewGzipCompressor(-1)}
	m := NewManager(fc, b, zap.NewNop())

	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"x": 1},
	})
	require.NoError(t, err)

	fc.failDecompress = true
	_, err = m.CompleteHandoff(res.HandoffID, "agentB")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInternal))
	assert.Equal(t, 1, failed)

	// The record reached the failed terminal state; retry conflicts.
	fc.failDecompress = false
	_, err = m.CompleteHandoff(res.HandoffID, "agentB")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestHandoff_ConcurrentCompletionExactlyOnce(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, zap.NewNop())

	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"x": float64(1)},
	})
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan map[string]any, attempts)
	conflicts := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			restored, err := m.CompleteHandoff(res.HandoffID, "agentB")
			if err != nil {
				conflicts <- err
				return
			}
			successes <- restored
		}()
	}
	wg.Wait()
	close(successes)
	close(conflicts)

	assert.Len(t, successes, 1, "exactly one completion succeeds")
	assert.Len(t, conflicts, attempts-1)
	for err := range conflicts {
		assert.True(t, types.IsCode(err, types.ErrConflict))
	}
}

func TestHandoff_SubscriberReadbackDuringCompletion(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	m := NewManager(nil, b, zap.NewNop())

	// A subscriber reading the record back through the manager must not
	// block completion.
	var observed types.HandoffStatus
	b.Subscribe(bus.EventHandoffCompleted, func(e bus.Event) {
		p := e.Payload.(bus.HandoffCompletedPayload)
		rec, err := m.GetRecord(p.HandoffID)
		if err == nil {
			observed = rec.Status
		}
	})

	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"x": float64(1)},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.CompleteHandoff(res.HandoffID, "agentB")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CompleteHandoff blocked while a subscriber read back the record")
	}
	assert.Equal(t, types.HandoffCompleted, observed)
}

func TestHandoff_SubscriberReadbackOnFailure(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	fc := &failingCompressor{inner: NewGzipCompressor(-1)}
	m := NewManager(fc, b, zap.NewNop())

	var observed types.HandoffStatus
	b.Subscribe(bus.EventHandoffFailed, func(e bus.Event) {
		p := e.Payload.(bus.HandoffFailedPayload)
		rec, err := m.GetRecord(p.HandoffID)
		if err == nil {
			observed = rec.Status
		}
	})

	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{"x": 1},
	})
	require.NoError(t, err)

	fc.failDecompress = true
	done := make(chan error, 1)
	go func() {
		_, err := m.CompleteHandoff(res.HandoffID, "agentB")
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CompleteHandoff blocked while a subscriber read back the record")
	}
	assert.Equal(t, types.HandoffFailed, observed)
}

func TestHandoff_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	var events []bus.EventType
	b.Subscribe(bus.EventHandoffInitiated, func(e bus.Event) { events = append(events, e.Type) })
	b.Subscribe(bus.EventHandoffCompleted, func(e bus.Event) { events = append(events, e.Type) })

	m := NewManager(nil, b, zap.NewNop())
	res, err := m.InitiateHandoff(Request{
		SourceAgentID: "agentA",
		TargetAgentID: "agentB",
		Context:       map[string]any{},
	})
	require.NoError(t, err)
	_, err = m.CompleteHandoff(res.HandoffID, "agentB")
	require.NoError(t, err)

	assert.Equal(t, []bus.EventType{bus.EventHandoffInitiated, bus.EventHandoffCompleted}, events)
}
