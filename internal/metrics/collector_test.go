package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsOnDedicatedRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector("agentcoord_test", reg, zap.NewNop())

	c.RecordEventPublished("task.routed")
	c.RecordRouting("code_generation", "routed", 5*time.Millisecond)
	c.RecordVoteCast("session-1")
	c.RecordSessionClosed("simple-majority", true)
	c.RecordHandoff("completed")
	c.RecordWorkflowNode("process")
	c.RecordWorkflowRun(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentcoord_test_events_published_total"])
	assert.True(t, names["agentcoord_test_handoffs_total"])
}

func TestCollector_NilIsSafe(t *testing.T) {
	t.Parallel()
	var c *Collector

	c.RecordEventPublished("task.routed")
	c.RecordRouting("testing", "degraded", time.Millisecond)
	c.RecordVoteCast("session-2")
	c.RecordSessionClosed("supermajority", false)
	c.RecordHandoff("failed")
	c.RecordWorkflowNode("agent")
	c.RecordWorkflowRun(false)
}
