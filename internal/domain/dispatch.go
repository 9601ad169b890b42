package domain

import (
	"strings"
	"time"
)

// DispatchStatus represents the lifecycle state of a dispatch sequence.
type DispatchStatus string

const (
	// StatusPending means a provider has been notified and a reply is awaited.
	StatusPending DispatchStatus = "PENDING"
	// StatusAccepted means a provider confirmed the job.
	StatusAccepted DispatchStatus = "ACCEPTED"
	// StatusExhausted means every candidate declined or failed to dispatch.
	StatusExhausted DispatchStatus = "EXHAUSTED"
	// StatusExpired means the job aged out without any acceptance.
	StatusExpired DispatchStatus = "EXPIRED"
)

func (s DispatchStatus) String() string { return string(s) }

func (s DispatchStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusExhausted, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further provider may be notified.
func (s DispatchStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusExhausted || s == StatusExpired
}

// Reply is the normalized content of an inbound provider SMS.
type Reply string

const (
	ReplyAccept  Reply = "ACCEPT"
	ReplyDecline Reply = "DECLINE"
	ReplyUnknown Reply = "UNKNOWN"
)

func (r Reply) String() string { return string(r) }

// ParseReply normalizes inbound message text. Matching is case-insensitive
// with surrounding whitespace trimmed; no synonyms beyond the two tokens.
func ParseReply(text string) Reply {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case string(ReplyAccept):
		return ReplyAccept
	case string(ReplyDecline):
		return ReplyDecline
	}
	return ReplyUnknown
}

// DispatchState is the per-job record of which provider is currently awaited
// and who has already been tried. Candidates keep spreadsheet row order and
// CurrentIndex only ever moves forward.
type DispatchState struct {
	JobID        string
	Job          Job
	Candidates   []Provider
	CurrentIndex int
	Status       DispatchStatus
	AcceptedBy   *Provider
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Current returns the awaited provider. The second return is false once the
// state is terminal or the candidate list is exhausted.
func (s *DispatchState) Current() (Provider, bool) {
	if s == nil || s.Status != StatusPending {
		return Provider{}, false
	}
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Candidates) {
		return Provider{}, false
	}
	return s.Candidates[s.CurrentIndex], true
}
