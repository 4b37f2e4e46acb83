package budget_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/ignatij/agentkernel/pkg/budget"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *captureEmitter) Emit(eventType models.EventType, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := int64(len(c.events))
	c.events = append(c.events, models.Event{Seq: seq, Type: eventType, Payload: raw})
	return seq, nil
}

func (c *captureEmitter) countType(typ models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func testSpec() models.BudgetSpec {
	return models.BudgetSpec{
		MaxTokens:         100,
		MaxToolCalls:      5,
		MaxTimeSeconds:    60,
		MaxRecursionDepth: 3,
		MaxParallel:       2,
	}
}

func TestChargeWithinCeiling(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	require.NoError(t, m.Charge(models.ResourceTokens, 60))
	require.NoError(t, m.Charge(models.ResourceTokens, 40))
	assert.Equal(t, int64(100), m.Usage().Tokens)
	assert.Equal(t, 2, emitter.countType(models.EventBudgetUpdated))
}

func TestChargeVeto(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	require.NoError(t, m.Charge(models.ResourceTokens, 90))
	err := m.Charge(models.ResourceTokens, 20)
	require.Error(t, err)

	var exceeded *models.BudgetExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, models.ResourceTokens, exceeded.Resource)
	assert.Equal(t, int64(100), exceeded.Ceiling)
	assert.Equal(t, int64(110), exceeded.Attempted)

	// The vetoed charge committed nothing.
	assert.Equal(t, int64(90), m.Usage().Tokens)
	assert.Equal(t, 1, emitter.countType(models.EventBudgetExceeded))
	assert.True(t, models.IsRunFatal(err))
}

func TestConcurrentChargesAtomic(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	// 100 goroutines each charge 2 tokens against a ceiling of 100: exactly
	// 50 may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Charge(models.ResourceTokens, 2); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, int64(100), m.Usage().Tokens)
}

func TestObserveParallelWatermark(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	require.NoError(t, m.ObserveParallel(1))
	require.NoError(t, m.ObserveParallel(2))
	// Occupancy dropping does not lower the recorded watermark.
	require.NoError(t, m.ObserveParallel(1))
	assert.Equal(t, int64(2), m.Usage().Parallel)

	err := m.ObserveParallel(3)
	require.Error(t, err)
	var exceeded *models.BudgetExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, models.ResourceParallel, exceeded.Resource)
}

func TestObserveDepthWatermark(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	require.NoError(t, m.ObserveDepth(1))
	require.NoError(t, m.ObserveDepth(3))
	assert.Equal(t, int64(3), m.Usage().RecursionDepth)

	err := m.ObserveDepth(4)
	require.Error(t, err)
	assert.Equal(t, int64(3), m.Usage().RecursionDepth)
}

func TestUsageMonotonic(t *testing.T) {
	emitter := &captureEmitter{}
	m := budget.NewManager(testSpec(), emitter)

	require.NoError(t, m.Charge(models.ResourceToolCalls, 1))
	require.NoError(t, m.ObserveParallel(2))
	require.NoError(t, m.ObserveParallel(1))
	require.NoError(t, m.Charge(models.ResourceToolCalls, 1))

	// Every BudgetUpdated snapshot is >= its predecessor on all counters.
	var prev models.BudgetUsage
	for _, e := range emitter.events {
		if e.Type != models.EventBudgetUpdated {
			continue
		}
		var p models.BudgetUpdatedPayload
		require.NoError(t, e.DecodePayload(&p))
		for _, r := range []models.Resource{models.ResourceTokens, models.ResourceToolCalls, models.ResourceTimeSeconds, models.ResourceDepth, models.ResourceParallel} {
			assert.GreaterOrEqual(t, p.Usage.Of(r), prev.Of(r))
		}
		prev = p.Usage
	}
}
