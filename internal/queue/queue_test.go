package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobEventValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		event   JobEvent
		wantErr bool
	}{
		{
			name:  "valid created event",
			event: JobEvent{JobID: "job-1", Type: EventJobCreated, Location: "LocA"},
		},
		{
			name:  "valid notified event",
			event: JobEvent{JobID: "job-1", Type: EventProviderNotified, ProviderPhone: "15550000001"},
		},
		{
			name:    "missing job id",
			event:   JobEvent{Type: EventJobAccepted},
			wantErr: true,
		},
		{
			name:    "blank job id",
			event:   JobEvent{JobID: "   ", Type: EventJobAccepted},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   JobEvent{JobID: "job-1", Type: EventType("job.started")},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.event.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("Validate() expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestEventTypeIsValid(t *testing.T) {
	t.Parallel()

	valid := []EventType{EventJobCreated, EventProviderNotified, EventJobAccepted, EventJobExhausted, EventJobExpired}
	for _, eventType := range valid {
		if !eventType.IsValid() {
			t.Fatalf("%s should be valid", eventType)
		}
	}
	if EventType("job.cancelled").IsValid() {
		t.Fatal("unknown event type should be invalid")
	}
}

func TestJobEventJSONShape(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	event := JobEvent{
		JobID:      "job-1",
		Type:       EventJobAccepted,
		Location:   "LocA",
		OccurredAt: occurred,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if decoded["jobId"] != "job-1" {
		t.Fatalf("jobId = %v, want job-1", decoded["jobId"])
	}
	if decoded["type"] != "job.accepted" {
		t.Fatalf("type = %v, want job.accepted", decoded["type"])
	}
	if _, ok := decoded["providerPhone"]; ok {
		t.Fatal("empty providerPhone should be omitted")
	}
}
