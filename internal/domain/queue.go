package domain

import (
	"sort"
	"time"
)

type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueuePlaying   QueueState = "playing"
	QueueCompleted QueueState = "completed"
	QueueFailed    QueueState = "failed"
)

func (s QueueState) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed
}

type QueueEntry struct {
	ID             int64      `db:"id" json:"id"`
	AnnouncementID int64      `db:"announcement_id" json:"announcement_id"`
	ScheduleID     *int64     `db:"schedule_id" json:"schedule_id,omitempty"`
	Priority       Priority   `db:"priority" json:"priority"`
	OrgID          int64      `db:"org_id" json:"org_id"`
	State          QueueState `db:"state" json:"state"`
	ScheduledFor   time.Time  `db:"scheduled_for" json:"scheduled_for"`
	ExecutedAt     *time.Time `db:"executed_at" json:"executed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Delivery is a queue entry joined with the announcement content it plays.
type Delivery struct {
	QueueEntry
	Content      string  `db:"content" json:"content"`
	CleanContent string  `db:"clean_content" json:"clean_content"`
	AudioURL     *string `db:"audio_url" json:"audio_url,omitempty"`
}

func (d *Delivery) Text() string {
	if d.CleanContent != "" {
		return d.CleanContent
	}
	return d.Content
}

// SortDeliveries orders deliveries by priority rank, then earliest
// scheduled_for first.
func SortDeliveries(ds []Delivery) {
	sort.SliceStable(ds, func(i, j int) bool {
		ri, rj := ds[i].Priority.Rank(), ds[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return ds[i].ScheduledFor.Before(ds[j].ScheduledFor)
	})
}
