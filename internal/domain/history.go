package domain

import "time"

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

type HistoryRecord struct {
	ID              int64     `db:"id" json:"id"`
	QueueID         *int64    `db:"queue_id" json:"queue_id,omitempty"`
	AnnouncementID  int64     `db:"announcement_id" json:"announcement_id"`
	ScheduleID      *int64    `db:"schedule_id" json:"schedule_id,omitempty"`
	OrgID           int64     `db:"org_id" json:"org_id"`
	Priority        Priority  `db:"priority" json:"priority"`
	ExecutedAt      time.Time `db:"executed_at" json:"executed_at"`
	AudioURL        *string   `db:"audio_url" json:"audio_url,omitempty"`
	DurationSeconds int       `db:"duration_seconds" json:"duration_seconds"`
	Outcome         Outcome   `db:"outcome" json:"outcome"`
}
