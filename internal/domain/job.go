package domain

import (
	"fmt"
	"strings"
	"time"
)

// BookingDetails carries the typed fields extracted from a form submission.
// All fields except the city are free-form and only used for SMS copy.
type BookingDetails struct {
	ClientName  string
	ClientPhone string
	ServiceType string
	Date        string
	Time        string
	Duration    string
	City        string
	Notes       string
}

// Summary renders a one-line human-readable description for logs and events.
func (d BookingDetails) Summary() string {
	serviceType := d.ServiceType
	if serviceType == "" {
		serviceType = "service"
	}
	return strings.TrimSpace(fmt.Sprintf(
		"New %s %s booking in %s on %s at %s",
		d.Duration, serviceType, d.City, d.Date, d.Time,
	))
}

// Job is one form submission requiring provider assignment. It lives only for
// the duration of the dispatch sequence; the tracker holds it in memory.
type Job struct {
	ID        string
	Location  string
	Details   BookingDetails
	CreatedAt time.Time
}

func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: job is required", ErrValidation)
	}
	if strings.TrimSpace(j.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrValidation)
	}
	return nil
}
