package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_Rank(t *testing.T) {
	assert.Less(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Greater(t, Priority("Whatever").Rank(), PriorityLow.Rank())
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("Alta")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("alta")
	assert.Error(t, err)
}

func TestPriority_DefaultRepeatEvery(t *testing.T) {
	assert.Equal(t, 7, PriorityUrgent.DefaultRepeatEvery())
	assert.Equal(t, 10, PriorityHigh.DefaultRepeatEvery())
	assert.Equal(t, 15, PriorityMedium.DefaultRepeatEvery())
	assert.Equal(t, 30, PriorityLow.DefaultRepeatEvery())
}

func TestSortDeliveries(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ds := []Delivery{
		{QueueEntry: QueueEntry{ID: 1, Priority: PriorityLow, ScheduledFor: now.Add(-time.Hour)}},
		{QueueEntry: QueueEntry{ID: 2, Priority: PriorityMedium, ScheduledFor: now.Add(-time.Minute)}},
		{QueueEntry: QueueEntry{ID: 3, Priority: PriorityHigh, ScheduledFor: now}},
		{QueueEntry: QueueEntry{ID: 4, Priority: PriorityUrgent, ScheduledFor: now}},
		{QueueEntry: QueueEntry{ID: 5, Priority: PriorityMedium, ScheduledFor: now.Add(-time.Hour)}},
	}

	SortDeliveries(ds)

	ids := make([]int64, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	assert.Equal(t, []int64{4, 3, 5, 2, 1}, ids)
}

func TestDelivery_Text(t *testing.T) {
	d := Delivery{Content: "raw", CleanContent: "clean"}
	assert.Equal(t, "clean", d.Text())

	d.CleanContent = ""
	assert.Equal(t, "raw", d.Text())
}
