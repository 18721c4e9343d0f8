package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ValidEdges(t *testing.T) {
	assert.True(t, CanTransition(JobPending, JobExecuting))
	assert.True(t, CanTransition(JobExecuting, JobExecuted))
	assert.True(t, CanTransition(JobExecuting, JobDCAActive))
	assert.True(t, CanTransition(JobDCAActive, JobExecuting))
	assert.True(t, CanTransition(JobExecuting, JobPending)) // retry
	assert.True(t, CanTransition(JobExecuted, JobCancelled))
}

func TestCanTransition_InvalidEdges(t *testing.T) {
	assert.False(t, CanTransition(JobPending, JobExecuted))
	assert.False(t, CanTransition(JobExecuted, JobPending))
	assert.False(t, CanTransition(JobCancelled, JobPending))
	assert.False(t, CanTransition(JobExpired, JobExecuting))
	assert.False(t, CanTransition(JobSkipped, JobExecuting))
}

func TestJobStatus_ActiveAndTerminal(t *testing.T) {
	active := []JobStatus{JobPending, JobExecuting, JobDCAActive}
	terminal := []JobStatus{JobExecuted, JobSkipped, JobFailed, JobExpired, JobCancelled}

	for _, s := range active {
		assert.True(t, s.IsActive(), string(s))
		assert.False(t, s.IsTerminal(), string(s))
	}
	for _, s := range terminal {
		assert.False(t, s.IsActive(), string(s))
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestTradeJob_InWindow(t *testing.T) {
	now := time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)
	j := &TradeJob{
		ExecuteAfter:  now.Add(-time.Hour),
		ExecuteBefore: now.Add(time.Hour),
	}
	assert.True(t, j.InWindow(now))
	assert.True(t, j.InWindow(j.ExecuteAfter)) // inclusive lower bound
	assert.False(t, j.InWindow(j.ExecuteBefore))
	assert.False(t, j.InWindow(now.Add(-2*time.Hour)))
}

func TestTradeJob_WindowClosed(t *testing.T) {
	tip := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)
	j := &TradeJob{
		TipOff:        tip,
		ExecuteAfter:  tip.Add(-6 * time.Hour),
		ExecuteBefore: tip.Add(time.Hour), // sloppy window past tip-off
	}
	assert.False(t, j.WindowClosed(tip.Add(-time.Minute)))
	// tip-off closes the window even if ExecuteBefore hasn't passed
	assert.True(t, j.WindowClosed(tip))
	assert.True(t, j.WindowClosed(tip.Add(30*time.Minute)))
}

func TestTradeJob_WindowClosedByExecuteBefore(t *testing.T) {
	before := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)
	j := &TradeJob{ExecuteBefore: before}
	assert.False(t, j.WindowClosed(before.Add(-time.Second)))
	assert.True(t, j.WindowClosed(before))
}

func TestTradeJob_DCAAccounting(t *testing.T) {
	j := &TradeJob{
		DCAMaxEntries: 4,
		DCASliceUSD:   25,
		DCABudgetUSD:  100,
	}
	assert.True(t, j.IsDCA())
	assert.Equal(t, 100.0, j.DCARemainingUSD())
	assert.True(t, j.SlicesRemain())

	j.DCAEntriesDone = 2
	assert.Equal(t, 50.0, j.DCARemainingUSD())
	assert.True(t, j.SlicesRemain())

	j.DCAEntriesDone = 4
	assert.Equal(t, 0.0, j.DCARemainingUSD())
	assert.False(t, j.SlicesRemain())
}

func TestTradeJob_SingleEntryIsNotDCA(t *testing.T) {
	j := &TradeJob{DCAMaxEntries: 1}
	assert.False(t, j.IsDCA())
}

func TestTradeJob_DCABudgetExhaustedBeforeMaxEntries(t *testing.T) {
	// slice larger than remaining budget stops slicing early
	j := &TradeJob{
		DCAMaxEntries:  5,
		DCAEntriesDone: 2,
		DCASliceUSD:    50,
		DCABudgetUSD:   100,
	}
	assert.Equal(t, 0.0, j.DCARemainingUSD())
	assert.False(t, j.SlicesRemain())
}
