package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jobrelay/sms-relay/internal/directory"
	"github.com/jobrelay/sms-relay/internal/domain"
	"github.com/jobrelay/sms-relay/internal/gateway"
	"github.com/jobrelay/sms-relay/internal/observability"
	"github.com/jobrelay/sms-relay/internal/queue"
	"github.com/jobrelay/sms-relay/internal/ratelimit"
	"github.com/jobrelay/sms-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	smsBucket    = "sms"
	retryBackoff = time.Second

	// bookedStatus is written back to the directory Status column when a
	// provider accepts a job.
	bookedStatus = "booked"
)

// Outcome summarizes what an inbound reply did to a job.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeNextNotified Outcome = "next_notified"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeClarified    Outcome = "clarified"
	OutcomeIgnored      Outcome = "ignored"
)

func (o Outcome) String() string { return string(o) }

// Orchestrator drives the sequential provider fallback: notify one provider,
// wait for the reply webhook, advance on decline or delivery failure, stop on
// accept. All state transitions go through the Tracker; everything else
// (gateway, directory, broker, job log) is reached through ports so the flow
// stays testable without external services.
type Orchestrator struct {
	tracker   *Tracker
	directory directory.Directory
	gateway   gateway.Gateway
	limiter   ratelimit.RateLimiter
	publisher queue.Publisher
	jobs      repository.JobRepository
	attempts  repository.AttemptRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	tracker *Tracker,
	dir directory.Directory,
	gw gateway.Gateway,
	limiter ratelimit.RateLimiter,
	publisher queue.Publisher,
	jobs repository.JobRepository,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		tracker:   tracker,
		directory: dir,
		gateway:   gw,
		limiter:   limiter,
		publisher: publisher,
		jobs:      jobs,
		attempts:  attempts,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepWithContext,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// CreateJob validates the intake, looks up providers for its location, and
// starts the dispatch sequence with the first candidate. The returned state
// reflects the position after the initial notification round: PENDING with
// an awaited provider on the happy path, EXHAUSTED when every candidate's
// offer SMS failed to deliver.
func (o *Orchestrator) CreateJob(ctx context.Context, job domain.Job) (domain.DispatchState, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := job.Validate(); err != nil {
		return domain.DispatchState{}, err
	}

	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = o.now().UTC()
	}

	ctx = observability.WithJobID(ctx, job.ID)
	logger := observability.WithContextLogger(o.logger, ctx)

	providers, err := o.listProviders(ctx, job.Location)
	if err != nil {
		logger.Error("provider directory lookup failed",
			zap.String("location", job.Location),
			zap.Error(err),
		)
		return domain.DispatchState{}, err
	}
	if len(providers) == 0 {
		return domain.DispatchState{}, fmt.Errorf("%w: location %q", domain.ErrNoProviders, job.Location)
	}

	now := o.now().UTC()
	state := &domain.DispatchState{
		JobID:      job.ID,
		Job:        job,
		Candidates: providers,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.tracker.Register(state); err != nil {
		return domain.DispatchState{}, err
	}

	o.recordJob(ctx, &job)
	o.publishEvent(ctx, queue.JobEvent{
		JobID:    job.ID,
		Type:     queue.EventJobCreated,
		Location: job.Location,
		Detail:   job.Details.Summary(),
	})
	o.metrics.IncJobCreated()

	logger.Info("job created",
		zap.String("location", job.Location),
		zap.Int("candidates", len(providers)),
	)

	return o.dispatchFromCurrent(ctx, *state), nil
}

// HandleReply routes an inbound SMS to the job awaiting its sender. The
// returned ErrUnmatchedReply is informational; callers acknowledge the
// webhook regardless.
func (o *Orchestrator) HandleReply(ctx context.Context, phone string, text string) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	reply := domain.ParseReply(text)

	switch reply {
	case domain.ReplyAccept:
		return o.handleAccept(ctx, phone)
	case domain.ReplyDecline:
		return o.handleDecline(ctx, phone)
	default:
		return o.handleUnknown(ctx, phone)
	}
}

// Get returns the live dispatch state for a job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (domain.DispatchState, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.DispatchState{}, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return o.tracker.Get(strings.TrimSpace(jobID))
}

// ExpireStale moves PENDING jobs not touched since cutoff to EXPIRED and
// emits the matching events. Returns the expired states.
func (o *Orchestrator) ExpireStale(ctx context.Context, cutoff time.Time) []domain.DispatchState {
	if ctx == nil {
		ctx = context.Background()
	}

	expired := o.tracker.ExpireBefore(cutoff)
	for i := range expired {
		state := expired[i]
		o.finalizeTerminal(ctx, state, queue.EventJobExpired)
		o.logger.Warn("job expired without acceptance",
			zap.String("jobId", state.JobID),
			zap.Int("candidatesTried", state.CurrentIndex+1),
		)
	}

	o.metrics.SetActiveJobs(o.tracker.ActiveCount())
	return expired
}

func (o *Orchestrator) handleAccept(ctx context.Context, phone string) (Outcome, error) {
	state, err := o.tracker.Accept(phone)
	if err != nil {
		return o.handleUnmatched(ctx, phone, err)
	}

	o.metrics.IncReply("accept")

	provider := *state.AcceptedBy
	ctx = observability.WithJobID(ctx, state.JobID)
	logger := observability.WithContextLogger(o.logger, ctx)
	logger.Info("provider accepted job",
		zap.String("provider", provider.Name),
		zap.String("phone", provider.Phone),
	)

	o.sendAck(ctx, phone, fmt.Sprintf(
		"Thank you for accepting the job, %s! You will be contacted with further details.",
		provider.Name,
	))

	if err := o.directory.UpdateStatus(ctx, provider.Phone, bookedStatus); err != nil {
		logger.Warn("directory status write-back failed",
			zap.String("phone", provider.Phone),
			zap.Error(err),
		)
	}

	o.finalizeTerminal(ctx, state, queue.EventJobAccepted)
	return OutcomeAccepted, nil
}

func (o *Orchestrator) handleDecline(ctx context.Context, phone string) (Outcome, error) {
	advance, err := o.tracker.Decline(phone)
	if err != nil {
		return o.handleUnmatched(ctx, phone, err)
	}

	o.metrics.IncReply("decline")

	ctx = observability.WithJobID(ctx, advance.State.JobID)
	logger := observability.WithContextLogger(o.logger, ctx)
	logger.Info("provider declined job", zap.String("phone", phone))

	if advance.Next == nil {
		o.sendAck(ctx, phone, "Thank you for your response. No more providers are available for this job.")
		o.finalizeTerminal(ctx, advance.State, queue.EventJobExhausted)
		return OutcomeExhausted, nil
	}

	o.sendAck(ctx, phone, "Thank you for your response. We'll notify the next available provider.")

	state := o.dispatchFromCurrent(ctx, advance.State)
	if state.Status == domain.StatusExhausted {
		return OutcomeExhausted, nil
	}
	return OutcomeNextNotified, nil
}

func (o *Orchestrator) handleUnknown(ctx context.Context, phone string) (Outcome, error) {
	if _, awaited := o.tracker.ResolveAwaited(phone); !awaited {
		return o.handleUnmatched(ctx, phone, fmt.Errorf("%w: %s", domain.ErrUnmatchedReply, phone))
	}

	o.metrics.IncReply("unknown")
	o.sendAck(ctx, phone, "Please reply with 'ACCEPT' to take this job or 'DECLINE' to pass.")
	return OutcomeClarified, nil
}

func (o *Orchestrator) handleUnmatched(ctx context.Context, phone string, err error) (Outcome, error) {
	o.metrics.IncReply("unmatched")
	o.logger.Info("ignoring reply from phone with no awaited job", zap.String("phone", phone))
	o.sendAck(ctx, phone, "No active job request found for your number.")
	return OutcomeIgnored, err
}

// dispatchFromCurrent offers the job to the awaited candidate. Candidates
// whose offer SMS cannot be delivered are consumed and the next one is
// tried, until a send succeeds or the list runs out.
func (o *Orchestrator) dispatchFromCurrent(ctx context.Context, state domain.DispatchState) domain.DispatchState {
	logger := observability.WithContextLogger(o.logger, observability.WithJobID(ctx, state.JobID))

	for {
		current, ok := state.Current()
		if !ok {
			return state
		}

		sendErr := o.sendOffer(ctx, state.Job, current, state.CurrentIndex)
		if sendErr == nil {
			o.publishEvent(ctx, queue.JobEvent{
				JobID:         state.JobID,
				Type:          queue.EventProviderNotified,
				Location:      state.Job.Location,
				ProviderName:  current.Name,
				ProviderPhone: current.Phone,
			})
			o.metrics.SetActiveJobs(o.tracker.ActiveCount())
			logger.Info("provider notified",
				zap.String("provider", current.Name),
				zap.String("phone", current.Phone),
				zap.Int("candidateIndex", state.CurrentIndex),
			)
			return state
		}

		logger.Error("job offer delivery failed, advancing to next candidate",
			zap.String("provider", current.Name),
			zap.String("phone", current.Phone),
			zap.Error(sendErr),
		)

		advance, err := o.tracker.FailCurrent(state.JobID, current.Phone)
		if err != nil {
			// A concurrent reply or expiry moved the job; leave it alone.
			logger.Warn("skipping advance after failed send", zap.Error(err))
			refreshed, getErr := o.tracker.Get(state.JobID)
			if getErr != nil {
				return state
			}
			return refreshed
		}

		state = advance.State
		if advance.Next == nil {
			o.finalizeTerminal(ctx, state, queue.EventJobExhausted)
			return state
		}
	}
}

// sendOffer delivers the job offer SMS with a single retry on transient
// gateway failures, and records the attempt in the audit log.
func (o *Orchestrator) sendOffer(ctx context.Context, job domain.Job, provider domain.Provider, candidateIndex int) error {
	text := buildOfferMessage(job, provider)

	messageID, err := o.sendSMS(ctx, provider.Phone, text, "offer")
	if err != nil && gateway.IsTransient(err) {
		if sleepErr := o.sleep(ctx, retryBackoff); sleepErr != nil {
			o.recordAttempt(ctx, job.ID, provider, candidateIndex, "", sleepErr)
			return sleepErr
		}
		messageID, err = o.sendSMS(ctx, provider.Phone, text, "offer")
	}

	o.recordAttempt(ctx, job.ID, provider, candidateIndex, messageID, err)
	return err
}

func (o *Orchestrator) sendSMS(ctx context.Context, phone string, text string, purpose string) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, smsBucket); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := o.now()
	messageID, err := o.gateway.Send(ctx, phone, text)
	o.metrics.ObserveSMSSendDuration(o.now().Sub(start))

	if err != nil {
		o.metrics.IncSMSFailed(purpose)
		return "", err
	}

	o.metrics.IncSMSSent(purpose)
	return messageID, nil
}

// sendAck delivers a courtesy reply to a provider. Best-effort, no retry.
func (o *Orchestrator) sendAck(ctx context.Context, phone string, text string) {
	if _, err := o.sendSMS(ctx, phone, text, "ack"); err != nil {
		o.logger.Warn("courtesy reply failed",
			zap.String("phone", phone),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) listProviders(ctx context.Context, location string) ([]domain.Provider, error) {
	providers, err := o.directory.ListProviders(ctx, location)
	if err != nil && directory.IsTransient(err) {
		if sleepErr := o.sleep(ctx, retryBackoff); sleepErr != nil {
			return nil, sleepErr
		}
		providers, err = o.directory.ListProviders(ctx, location)
	}
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (o *Orchestrator) finalizeTerminal(ctx context.Context, state domain.DispatchState, eventType queue.EventType) {
	event := queue.JobEvent{
		JobID:    state.JobID,
		Type:     eventType,
		Location: state.Job.Location,
	}

	var acceptedByPhone *string
	if state.AcceptedBy != nil {
		event.ProviderName = state.AcceptedBy.Name
		event.ProviderPhone = state.AcceptedBy.Phone
		phone := state.AcceptedBy.Phone
		acceptedByPhone = &phone
	}

	o.publishEvent(ctx, event)
	o.recordJobStatus(ctx, state.JobID, state.Status, acceptedByPhone)
	o.metrics.IncJobCompleted(state.Status.String())
	o.metrics.SetActiveJobs(o.tracker.ActiveCount())
}

func (o *Orchestrator) recordJob(ctx context.Context, job *domain.Job) {
	if o.jobs == nil {
		return
	}
	if err := o.jobs.Create(ctx, job, domain.StatusPending); err != nil {
		o.logger.Warn("job log write failed",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) recordJobStatus(ctx context.Context, jobID string, status domain.DispatchStatus, acceptedByPhone *string) {
	if o.jobs == nil {
		return
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, status, acceptedByPhone); err != nil {
		o.logger.Warn("job log status update failed",
			zap.String("jobId", jobID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) recordAttempt(
	ctx context.Context,
	jobID string,
	provider domain.Provider,
	candidateIndex int,
	messageID string,
	sendErr error,
) {
	if o.attempts == nil {
		return
	}

	attempt := &domain.DispatchAttempt{
		ID:             uuid.NewString(),
		JobID:          jobID,
		ProviderName:   provider.Name,
		ProviderPhone:  provider.Phone,
		CandidateIndex: candidateIndex,
		CreatedAt:      o.now().UTC(),
	}
	if strings.TrimSpace(messageID) != "" {
		attempt.GatewayMessageID = &messageID
	}
	if sendErr != nil {
		message := sendErr.Error()
		attempt.Error = &message
	}

	if err := o.attempts.Create(ctx, attempt); err != nil {
		o.logger.Warn("attempt log write failed",
			zap.String("jobId", jobID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, event queue.JobEvent) {
	if o.publisher == nil {
		return
	}

	event.OccurredAt = o.now().UTC()
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("job event publish failed",
			zap.String("jobId", event.JobID),
			zap.String("type", event.Type.String()),
			zap.Error(err),
		)
	}
}

func buildOfferMessage(job domain.Job, provider domain.Provider) string {
	details := job.Details

	serviceType := details.ServiceType
	if serviceType == "" {
		serviceType = "job"
	}
	city := details.City
	if city == "" {
		city = job.Location
	}
	date := details.Date
	if date == "" {
		date = "the scheduled time"
	}
	clientName := details.ClientName
	if clientName == "" {
		clientName = "New Client"
	}
	clientPhone := details.ClientPhone
	if clientPhone == "" {
		clientPhone = "N/A"
	}

	return fmt.Sprintf(
		"Hey %s, you've been booked for a %s in %s at %s. Client: %s (Phone: %s).\n\n"+
			"Please reply with 'ACCEPT' to confirm this booking or 'DECLINE' if you're not available.\n"+
			"Thanks!",
		provider.Name, serviceType, city, date, clientName, clientPhone,
	)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
