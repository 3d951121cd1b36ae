package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
)

// Priority orders deliveries. Values are stored verbatim in the database.
type Priority string

const (
	PriorityUrgent Priority = "Urgente"
	PriorityHigh   Priority = "Alta"
	PriorityMedium Priority = "Media"
	PriorityLow    Priority = "Bassa"
)

// Rank returns 1 for the most urgent priority and 4 for the least.
// Unknown priorities sort after every known one.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	}
	return 5
}

func (p Priority) Valid() bool {
	return p.Rank() <= 4
}

// DefaultRepeatEvery is the repetition interval used when a schedule is
// created without an explicit one.
func (p Priority) DefaultRepeatEvery() int {
	switch p {
	case PriorityUrgent:
		return 7
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 30
	}
	return DefaultRepeatEveryMinutes
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

type AnnouncementKind string

const (
	KindText  AnnouncementKind = "text"
	KindAudio AnnouncementKind = "audio"
)

type Announcement struct {
	ID           int64            `db:"id" json:"id"`
	Content      string           `db:"content" json:"content"`
	CleanContent string           `db:"clean_content" json:"clean_content"`
	Speaker      string           `db:"speaker" json:"speaker"`
	Speed        float64          `db:"speed" json:"speed"`
	Pitch        float64          `db:"pitch" json:"pitch"`
	AudioPath    *string          `db:"audio_path" json:"audio_path,omitempty"`
	AudioURL     *string          `db:"audio_url" json:"audio_url,omitempty"`
	Kind         AnnouncementKind `db:"kind" json:"kind"`
	Priority     Priority         `db:"priority" json:"priority"`
	OrgID        int64            `db:"org_id" json:"org_id"`
	CreatedBy    *int64           `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// SpeechText is the text handed to speech synthesis and playback.
func (a *Announcement) SpeechText() string {
	if a.CleanContent != "" {
		return a.CleanContent
	}
	return a.Content
}

type SpeechRequest struct {
	Text    string
	Speaker string
	Speed   float64
	Pitch   float64
}

type SpeechResult struct {
	AudioURL string
	Duration time.Duration
	Format   string
}
