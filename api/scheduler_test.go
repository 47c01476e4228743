package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
)

type countingLister struct {
	calls atomic.Int32
	found []*crm.Invoice
	err   error
}

func (c *countingLister) ListOverdue(_ context.Context, _ time.Time) ([]*crm.Invoice, error) {
	c.calls.Add(1)
	return c.found, c.err
}

func TestOverdueScheduler_ChecksOnStart(t *testing.T) {
	// GIVEN: One overdue invoice and a long interval
	lister := &countingLister{found: []*crm.Invoice{{ID: "inv-1", DueDate: testNow.AddDate(0, 0, -3)}}}
	sched := NewOverdueScheduler(lister)
	sched.Clock = crm.FixedClock(testNow)

	// WHEN: Starting
	sched.Start()
	defer sched.Stop()

	// THEN: A check runs right away without waiting for the ticker
	require.Eventually(t, func() bool {
		last, _ := sched.LastRun()
		return !last.IsZero()
	}, time.Second, 5*time.Millisecond)
	last, n := sched.LastRun()
	assert.True(t, testNow.Equal(last), last.String())
	assert.Equal(t, 1, n)
}

func TestOverdueScheduler_TicksUntilStopped(t *testing.T) {
	lister := &countingLister{}
	sched := NewOverdueScheduler(lister)
	sched.CheckInterval = 5 * time.Millisecond

	sched.Start()
	require.Eventually(t, func() bool { return lister.calls.Load() >= 3 }, time.Second, time.Millisecond)
	sched.Stop()

	stopped := lister.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, lister.calls.Load())

	// Stop is idempotent
	sched.Stop()
}

func TestOverdueScheduler_DisabledNeverRuns(t *testing.T) {
	lister := &countingLister{}
	sched := NewOverdueScheduler(lister)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	assert.Zero(t, lister.calls.Load())
}

func TestOverdueScheduler_ErrorKeepsPreviousRun(t *testing.T) {
	lister := &countingLister{err: errors.New("store down")}
	sched := NewOverdueScheduler(lister)

	sched.Start()
	require.Eventually(t, func() bool { return lister.calls.Load() >= 1 }, time.Second, time.Millisecond)
	sched.Stop()

	last, _ := sched.LastRun()
	assert.True(t, last.IsZero())
}
