package domain

import "time"

// DispatchAttempt records one outbound job-offer SMS to a provider.
type DispatchAttempt struct {
	ID               string
	JobID            string
	ProviderName     string
	ProviderPhone    string
	CandidateIndex   int
	GatewayMessageID *string
	Error            *string
	CreatedAt        time.Time
}
