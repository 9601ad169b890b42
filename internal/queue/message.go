package queue

import (
	"fmt"
	"strings"
	"time"
)

// EventType labels a job lifecycle event.
type EventType string

const (
	EventJobCreated       EventType = "job.created"
	EventProviderNotified EventType = "provider.notified"
	EventJobAccepted      EventType = "job.accepted"
	EventJobExhausted     EventType = "job.exhausted"
	EventJobExpired       EventType = "job.expired"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventJobCreated, EventProviderNotified, EventJobAccepted, EventJobExhausted, EventJobExpired:
		return true
	}
	return false
}

// JobEvent is the broker payload emitted on dispatch state transitions so
// downstream systems (booking backoffice, CRM) can follow along.
type JobEvent struct {
	JobID         string    `json:"jobId"`
	Type          EventType `json:"type"`
	Location      string    `json:"location,omitempty"`
	ProviderName  string    `json:"providerName,omitempty"`
	ProviderPhone string    `json:"providerPhone,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func (e JobEvent) Validate() error {
	if strings.TrimSpace(e.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	return nil
}
