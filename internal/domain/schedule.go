package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const DefaultRepeatEveryMinutes = 15

var ErrMalformedRecurrence = errors.New("malformed recurrence")

type ScheduleState string

const (
	ScheduleActive    ScheduleState = "active"
	SchedulePaused    ScheduleState = "paused"
	ScheduleCompleted ScheduleState = "completed"
	ScheduleCancelled ScheduleState = "cancelled"
)

// Terminal reports whether the schedule can never fire again.
func (s ScheduleState) Terminal() bool {
	return s == ScheduleCompleted || s == ScheduleCancelled
}

// Schedule binds an announcement to a recurrence. Recurrence holds the raw
// stored blob; callers decode it with DecodeRecurrence so a single corrupt
// row cannot fail a whole listing.
type Schedule struct {
	ID               int64         `db:"id" json:"id"`
	AnnouncementID   int64         `db:"announcement_id" json:"announcement_id"`
	Priority         Priority      `db:"priority" json:"priority"`
	Recurrence       RawRecurrence `db:"recurrence" json:"recurrence"`
	State            ScheduleState `db:"state" json:"state"`
	TotalFirings     int64         `db:"total_firings" json:"total_firings"`
	CompletedFirings int64         `db:"completed_firings" json:"completed_firings"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`

	// OrgID comes from the owning announcement.
	OrgID int64 `db:"org_id" json:"org_id"`
}

// RawRecurrence is the recurrence column as read from the store.
type RawRecurrence []byte

func (r *RawRecurrence) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawRecurrence(v)
	default:
		return fmt.Errorf("scan recurrence: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON emits the stored blob as-is.
func (r RawRecurrence) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(r) {
		return json.Marshal(string(r))
	}
	return r, nil
}

// Recurrence is the decoded repeat rule of a schedule.
type Recurrence struct {
	RepeatEveryMinutes int       `json:"repeat_every_minutes"`
	RepeatUntil        time.Time `json:"repeat_until"`
	NextExecution      time.Time `json:"next_execution"`
}

// DecodeRecurrence normalizes a stored recurrence. The blob may be a JSON
// object or a JSON string holding the serialized object.
func DecodeRecurrence(raw []byte) (Recurrence, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		return Recurrence{}, fmt.Errorf("%w: empty", ErrMalformedRecurrence)
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Recurrence{}, fmt.Errorf("%w: %v", ErrMalformedRecurrence, err)
		}
		data = bytes.TrimSpace([]byte(inner))
	}

	var wire struct {
		RepeatEveryMinutes minutes    `json:"repeat_every_minutes"`
		RepeatUntil        *time.Time `json:"repeat_until"`
		NextExecution      *time.Time `json:"next_execution"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Recurrence{}, fmt.Errorf("%w: %v", ErrMalformedRecurrence, err)
	}
	if wire.RepeatUntil == nil || wire.RepeatUntil.IsZero() {
		return Recurrence{}, fmt.Errorf("%w: missing repeat_until", ErrMalformedRecurrence)
	}
	if wire.NextExecution == nil || wire.NextExecution.IsZero() {
		return Recurrence{}, fmt.Errorf("%w: missing next_execution", ErrMalformedRecurrence)
	}

	rec := Recurrence{
		RepeatEveryMinutes: int(wire.RepeatEveryMinutes),
		RepeatUntil:        *wire.RepeatUntil,
		NextExecution:      *wire.NextExecution,
	}
	if rec.RepeatEveryMinutes <= 0 {
		rec.RepeatEveryMinutes = DefaultRepeatEveryMinutes
	}
	return rec, nil
}

// minutes accepts the interval as a JSON number or a numeric string.
type minutes int

func (m *minutes) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*m = 0
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(s)
		if text == "" {
			*m = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("repeat_every_minutes %q: not a number", text)
	}
	*m = minutes(f)
	return nil
}

func (r Recurrence) Interval() time.Duration {
	return time.Duration(r.RepeatEveryMinutes) * time.Minute
}

// Due reports whether a firing is owed at now.
func (r Recurrence) Due(now time.Time) bool {
	return !now.Before(r.NextExecution) && !now.After(r.RepeatUntil)
}

// Expired reports whether the validity window has elapsed.
func (r Recurrence) Expired(now time.Time) bool {
	return now.After(r.RepeatUntil)
}

// Advance returns the recurrence moved to its following firing.
func (r Recurrence) Advance() Recurrence {
	r.NextExecution = r.NextExecution.Add(r.Interval())
	return r
}

func (r Recurrence) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
