package models

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusActive    EventStatus = "active"
	EventStatusCompleted EventStatus = "completed"
)

// Valid reports whether s is a known event status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusUpcoming, EventStatusActive, EventStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether an event may move from s to next.
// Events only move forward: upcoming → active → completed.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventStatusUpcoming:
		return next == EventStatusActive || next == EventStatusCompleted
	case EventStatusActive:
		return next == EventStatusCompleted
	}
	return false
}

type PrivacyLevel string

const (
	PrivacyPublic     PrivacyLevel = "public"
	PrivacyAttendees  PrivacyLevel = "attendees"
	PrivacyRestricted PrivacyLevel = "restricted"
)

// Valid reports whether p is a known privacy level.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyAttendees, PrivacyRestricted:
		return true
	}
	return false
}

type Event struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Date      time.Time    `json:"date" db:"date"`
	Status    EventStatus  `json:"status" db:"status"`
	Privacy   PrivacyLevel `json:"privacy" db:"privacy"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
