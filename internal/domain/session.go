package domain

import (
	"strings"
	"time"
)

// Default cancellation windows when a session does not override them
const (
	DefaultSubscriberCancellationHours = 24
	DefaultDropInCancellationHours     = 48
)

// Session is a scheduled play session with a finite number of slots
type Session struct {
	ID                 string    `json:"id"`
	OrganizerID        string    `json:"organizer_id"`
	Title              string    `json:"title"`
	Location           string    `json:"location,omitempty"`
	StartsAt           time.Time `json:"starts_at"`
	Courts             int       `json:"courts"`
	MaxPlayersPerCourt int       `json:"max_players_per_court"`
	TotalSlots         int       `json:"total_slots"`
	AvailableSlots     int       `json:"available_slots"`
	Price              *int64    `json:"price,omitempty"`

	SubscriberCancellationHours *int `json:"subscriber_cancellation_hours,omitempty"`
	DropInCancellationHours     *int `json:"drop_in_cancellation_hours,omitempty"`

	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionSlots returns the slot capacity for the given court layout
func NewSessionSlots(courts, maxPlayersPerCourt int) int {
	return courts * maxPlayersPerCourt
}

// Validate checks the session fields required at creation time
func (s *Session) Validate() error {
	if strings.TrimSpace(s.Title) == "" || s.OrganizerID == "" {
		return ErrInvalidSession
	}
	if s.Courts <= 0 || s.MaxPlayersPerCourt <= 0 {
		return ErrInvalidSession
	}
	if s.TotalSlots != NewSessionSlots(s.Courts, s.MaxPlayersPerCourt) {
		return ErrInvalidSession
	}
	if s.AvailableSlots < 0 || s.AvailableSlots > s.TotalSlots {
		return ErrInvalidSession
	}
	if s.Price != nil && *s.Price < 0 {
		return ErrInvalidSession
	}
	return nil
}

// HasStarted reports whether the session start time is not after now
func (s *Session) HasStarted(now time.Time) bool {
	return !s.StartsAt.After(now)
}

// BasePrice returns the per-slot price, falling back to defaultPrice
func (s *Session) BasePrice(defaultPrice int64) int64 {
	if s.Price != nil {
		return *s.Price
	}
	return defaultPrice
}

// CancellationHours returns the window that applies to a subscriber or drop-in player
func (s *Session) CancellationHours(subscriber bool, subscriberDefault, dropInDefault int) int {
	if subscriber {
		if s.SubscriberCancellationHours != nil {
			return *s.SubscriberCancellationHours
		}
		return subscriberDefault
	}
	if s.DropInCancellationHours != nil {
		return *s.DropInCancellationHours
	}
	return dropInDefault
}

// BookedSlots returns the number of slots held by active bookings
func (s *Session) BookedSlots() int {
	return s.TotalSlots - s.AvailableSlots
}
