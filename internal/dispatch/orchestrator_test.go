package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobrelay/sms-relay/internal/directory"
	"github.com/jobrelay/sms-relay/internal/domain"
	"github.com/jobrelay/sms-relay/internal/gateway"
	"github.com/jobrelay/sms-relay/internal/queue"
	"github.com/jobrelay/sms-relay/internal/repository"
	"go.uber.org/zap/zaptest"
)

type statusWrite struct {
	Phone  string
	Status string
}

type fakeDirectory struct {
	mu           sync.Mutex
	providers    []domain.Provider
	listErrs     []error
	listCalls    int
	statusWrites []statusWrite
	updateErr    error
}

func (d *fakeDirectory) ListProviders(ctx context.Context, location string) ([]domain.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listCalls++
	if len(d.listErrs) > 0 {
		err := d.listErrs[0]
		d.listErrs = d.listErrs[1:]
		return nil, err
	}

	var matched []domain.Provider
	for _, p := range d.providers {
		if domain.SameLocation(p.Location, location) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (d *fakeDirectory) UpdateStatus(ctx context.Context, phone string, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.updateErr != nil {
		return d.updateErr
	}
	d.statusWrites = append(d.statusWrites, statusWrite{Phone: phone, Status: status})
	return nil
}

type sentSMS struct {
	Phone string
	Text  string
}

type fakeGateway struct {
	mu     sync.Mutex
	sends  []sentSMS
	script map[string][]error
}

func (g *fakeGateway) failNext(phone string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.script == nil {
		g.script = make(map[string][]error)
	}
	key := domain.NormalizePhone(phone)
	g.script[key] = append(g.script[key], errs...)
}

func (g *fakeGateway) Send(ctx context.Context, phone string, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := domain.NormalizePhone(phone)
	if queued := g.script[key]; len(queued) > 0 {
		err := queued[0]
		g.script[key] = queued[1:]
		return "", err
	}

	g.sends = append(g.sends, sentSMS{Phone: phone, Text: text})
	return "49575710", nil
}

func (g *fakeGateway) sentTo(phone string) []sentSMS {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := domain.NormalizePhone(phone)
	var out []sentSMS
	for _, s := range g.sends {
		if domain.NormalizePhone(s.Phone) == key {
			out = append(out, s)
		}
	}
	return out
}

type fakeLimiter struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (l *fakeLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (l *fakeLimiter) Wait(ctx context.Context, bucket string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.waits++
	return l.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.JobEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event queue.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) eventTypes() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]queue.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type fakeJobRepo struct {
	mu            sync.Mutex
	created       []string
	statusUpdates map[string]domain.DispatchStatus
	acceptedBy    map[string]string
}

func (r *fakeJobRepo) Create(ctx context.Context, job *domain.Job, status domain.DispatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.created = append(r.created, job.ID)
	return nil
}

func (r *fakeJobRepo) UpdateStatus(ctx context.Context, jobID string, status domain.DispatchStatus, acceptedByPhone *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.statusUpdates == nil {
		r.statusUpdates = make(map[string]domain.DispatchStatus)
	}
	r.statusUpdates[jobID] = status
	if acceptedByPhone != nil {
		if r.acceptedBy == nil {
			r.acceptedBy = make(map[string]string)
		}
		r.acceptedBy[jobID] = *acceptedByPhone
	}
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, jobID string) (*repository.JobModel, error) {
	return nil, domain.ErrNotFound
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DispatchAttempt
}

func (r *fakeAttemptRepo) Create(ctx context.Context, attempt *domain.DispatchAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, *attempt)
	return nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	tracker      *Tracker
	directory    *fakeDirectory
	gateway      *fakeGateway
	limiter      *fakeLimiter
	publisher    *fakePublisher
	jobs         *fakeJobRepo
	attempts     *fakeAttemptRepo
}

func newOrchestratorFixture(t *testing.T, providers []domain.Provider) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		tracker:   NewTracker(),
		directory: &fakeDirectory{providers: providers},
		gateway:   &fakeGateway{},
		limiter:   &fakeLimiter{},
		publisher: &fakePublisher{},
		jobs:      &fakeJobRepo{},
		attempts:  &fakeAttemptRepo{},
	}

	orchestrator, err := NewOrchestrator(
		f.tracker,
		f.directory,
		f.gateway,
		f.limiter,
		f.publisher,
		f.jobs,
		f.attempts,
		zaptest.NewLogger(t),
	)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	orchestrator.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	f.orchestrator = orchestrator
	return f
}

func testJob(location string) domain.Job {
	return domain.Job{
		Location: location,
		Details: domain.BookingDetails{
			ClientName:  "Jane Doe",
			ClientPhone: "+15125551234",
			ServiceType: "deep cleaning",
			Date:        "2026-09-01",
			Time:        "10:00",
			City:        location,
		},
	}
}

func TestOrchestrator_CreateJobNotifiesFirstProvider(t *testing.T) {
	providers := testProviders(3)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if state.Status != domain.StatusPending {
		t.Errorf("status = %s, want %s", state.Status, domain.StatusPending)
	}
	if state.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0", state.CurrentIndex)
	}
	if state.JobID == "" {
		t.Error("job id should be generated when missing")
	}

	offers := f.gateway.sentTo(providers[0].Phone)
	if len(offers) != 1 {
		t.Fatalf("offers to first provider = %d, want 1", len(offers))
	}
	if !strings.Contains(offers[0].Text, providers[0].Name) ||
		!strings.Contains(offers[0].Text, "deep cleaning") ||
		!strings.Contains(offers[0].Text, "'ACCEPT'") {
		t.Errorf("offer text missing expected copy: %q", offers[0].Text)
	}
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 0 {
		t.Errorf("second provider received %d messages before their turn", len(got))
	}

	wantEvents := []queue.EventType{queue.EventJobCreated, queue.EventProviderNotified}
	gotEvents := f.publisher.eventTypes()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", gotEvents, wantEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Errorf("event[%d] = %s, want %s", i, gotEvents[i], wantEvents[i])
		}
	}

	if len(f.jobs.created) != 1 {
		t.Errorf("job log writes = %d, want 1", len(f.jobs.created))
	}
	if len(f.attempts.attempts) != 1 {
		t.Fatalf("attempt log writes = %d, want 1", len(f.attempts.attempts))
	}
	if f.attempts.attempts[0].GatewayMessageID == nil {
		t.Error("successful attempt should record the gateway message id")
	}
	if f.limiter.waits == 0 {
		t.Error("sends must pass through the rate limiter")
	}
}

func TestOrchestrator_CreateJobNoProviders(t *testing.T) {
	f := newOrchestratorFixture(t, testProviders(2))

	_, err := f.orchestrator.CreateJob(context.Background(), testJob("Nowhere"))
	if !errors.Is(err, domain.ErrNoProviders) {
		t.Fatalf("CreateJob() error = %v, want ErrNoProviders", err)
	}

	if len(f.gateway.sends) != 0 {
		t.Errorf("no SMS should be sent, got %d", len(f.gateway.sends))
	}
	if got := f.tracker.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestOrchestrator_CreateJobValidation(t *testing.T) {
	f := newOrchestratorFixture(t, testProviders(1))

	_, err := f.orchestrator.CreateJob(context.Background(), domain.Job{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("CreateJob() error = %v, want ErrValidation", err)
	}
}

func TestOrchestrator_CreateJobRetriesTransientDirectoryError(t *testing.T) {
	f := newOrchestratorFixture(t, testProviders(1))
	f.directory.listErrs = []error{transientDirErr()}

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if state.Status != domain.StatusPending {
		t.Errorf("status = %s, want %s", state.Status, domain.StatusPending)
	}
	if f.directory.listCalls != 2 {
		t.Errorf("directory calls = %d, want 2", f.directory.listCalls)
	}
}

func TestOrchestrator_AcceptFlow(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "accept")
	if err != nil {
		t.Fatalf("HandleReply() error = %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAccepted)
	}

	got, err := f.orchestrator.Get(context.Background(), state.JobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusAccepted {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusAccepted)
	}
	if got.AcceptedBy == nil || got.AcceptedBy.Phone != providers[0].Phone {
		t.Errorf("AcceptedBy = %+v, want provider 1", got.AcceptedBy)
	}

	// Courtesy ack after the offer.
	sent := f.gateway.sentTo(providers[0].Phone)
	if len(sent) != 2 {
		t.Fatalf("messages to accepting provider = %d, want offer + ack", len(sent))
	}
	if !strings.Contains(sent[1].Text, "Thank you for accepting the job") {
		t.Errorf("ack text = %q", sent[1].Text)
	}

	// Directory write-back and job log.
	if len(f.directory.statusWrites) != 1 || f.directory.statusWrites[0].Status != "booked" {
		t.Errorf("status writes = %+v, want one booked write", f.directory.statusWrites)
	}
	if f.jobs.statusUpdates[state.JobID] != domain.StatusAccepted {
		t.Errorf("job log status = %s, want %s", f.jobs.statusUpdates[state.JobID], domain.StatusAccepted)
	}
	if f.jobs.acceptedBy[state.JobID] != providers[0].Phone {
		t.Errorf("job log acceptedBy = %q, want %q", f.jobs.acceptedBy[state.JobID], providers[0].Phone)
	}

	types := f.publisher.eventTypes()
	if types[len(types)-1] != queue.EventJobAccepted {
		t.Errorf("last event = %s, want %s", types[len(types)-1], queue.EventJobAccepted)
	}

	// The second provider is never contacted.
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 0 {
		t.Errorf("second provider received %d messages after acceptance", len(got))
	}
}

func TestOrchestrator_DeclineAdvancesToNextProvider(t *testing.T) {
	providers := testProviders(3)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "DECLINE")
	if err != nil {
		t.Fatalf("HandleReply() error = %v", err)
	}
	if outcome != OutcomeNextNotified {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeNextNotified)
	}

	// Decliner got an ack, next provider got the offer.
	declinerMsgs := f.gateway.sentTo(providers[0].Phone)
	if len(declinerMsgs) != 2 || !strings.Contains(declinerMsgs[1].Text, "next available provider") {
		t.Errorf("decliner messages = %+v", declinerMsgs)
	}
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 1 {
		t.Fatalf("offers to second provider = %d, want 1", len(got))
	}

	got, err := f.orchestrator.Get(context.Background(), state.JobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CurrentIndex != 1 || got.Status != domain.StatusPending {
		t.Errorf("state = index %d status %s, want index 1 PENDING", got.CurrentIndex, got.Status)
	}

	// Second provider accepts.
	outcome, err = f.orchestrator.HandleReply(context.Background(), providers[1].Phone, " Accept ")
	if err != nil {
		t.Fatalf("HandleReply(accept) error = %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAccepted)
	}
}

func TestOrchestrator_AllDeclinesExhaustJob(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if _, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "DECLINE"); err != nil {
		t.Fatalf("first decline error = %v", err)
	}
	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[1].Phone, "DECLINE")
	if err != nil {
		t.Fatalf("second decline error = %v", err)
	}
	if outcome != OutcomeExhausted {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeExhausted)
	}

	got, err := f.orchestrator.Get(context.Background(), state.JobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusExhausted {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusExhausted)
	}

	lastMsgs := f.gateway.sentTo(providers[1].Phone)
	if len(lastMsgs) != 2 || !strings.Contains(lastMsgs[1].Text, "No more providers") {
		t.Errorf("last decliner messages = %+v", lastMsgs)
	}

	types := f.publisher.eventTypes()
	if types[len(types)-1] != queue.EventJobExhausted {
		t.Errorf("last event = %s, want %s", types[len(types)-1], queue.EventJobExhausted)
	}
	if f.jobs.statusUpdates[state.JobID] != domain.StatusExhausted {
		t.Errorf("job log status = %s, want %s", f.jobs.statusUpdates[state.JobID], domain.StatusExhausted)
	}
}

func TestOrchestrator_UnknownReplyFromAwaitedProvider(t *testing.T) {
	providers := testProviders(1)
	f := newOrchestratorFixture(t, providers)

	if _, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin")); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "maybe tomorrow?")
	if err != nil {
		t.Fatalf("HandleReply() error = %v", err)
	}
	if outcome != OutcomeClarified {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeClarified)
	}

	msgs := f.gateway.sentTo(providers[0].Phone)
	if len(msgs) != 2 || !strings.Contains(msgs[1].Text, "reply with 'ACCEPT'") {
		t.Errorf("clarification messages = %+v", msgs)
	}

	// The job is still live and an ACCEPT still lands.
	if outcome, err = f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "ACCEPT"); err != nil || outcome != OutcomeAccepted {
		t.Errorf("HandleReply(accept) = (%s, %v), want (%s, nil)", outcome, err, OutcomeAccepted)
	}
}

func TestOrchestrator_UnmatchedReply(t *testing.T) {
	f := newOrchestratorFixture(t, testProviders(1))

	outcome, err := f.orchestrator.HandleReply(context.Background(), "+19998887777", "ACCEPT")
	if !errors.Is(err, domain.ErrUnmatchedReply) {
		t.Fatalf("HandleReply() error = %v, want ErrUnmatchedReply", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeIgnored)
	}

	msgs := f.gateway.sentTo("+19998887777")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "No active job request") {
		t.Errorf("unmatched reply messages = %+v", msgs)
	}
}

func TestOrchestrator_DuplicateAcceptIsIdempotent(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "ACCEPT"); err != nil {
		t.Fatalf("first accept error = %v", err)
	}

	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "ACCEPT")
	if !errors.Is(err, domain.ErrUnmatchedReply) {
		t.Fatalf("duplicate accept error = %v, want ErrUnmatchedReply", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeIgnored)
	}

	got, err := f.orchestrator.Get(context.Background(), state.JobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusAccepted || got.AcceptedBy == nil || got.AcceptedBy.Phone != providers[0].Phone {
		t.Errorf("state changed by duplicate accept: %+v", got)
	}

	// Exactly one booked write-back and one accepted event.
	if len(f.directory.statusWrites) != 1 {
		t.Errorf("status writes = %d, want 1", len(f.directory.statusWrites))
	}
	var acceptedEvents int
	for _, typ := range f.publisher.eventTypes() {
		if typ == queue.EventJobAccepted {
			acceptedEvents++
		}
	}
	if acceptedEvents != 1 {
		t.Errorf("job.accepted events = %d, want 1", acceptedEvents)
	}
}

func TestOrchestrator_TransientSendFailureRetriesOnce(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)
	f.gateway.failNext(providers[0].Phone, &gateway.GatewayError{StatusCode: 503, Transient: true})

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	// Retry succeeded; the job still awaits the first provider.
	if state.CurrentIndex != 0 || state.Status != domain.StatusPending {
		t.Errorf("state = index %d status %s, want index 0 PENDING", state.CurrentIndex, state.Status)
	}
	if got := f.gateway.sentTo(providers[0].Phone); len(got) != 1 {
		t.Errorf("delivered offers = %d, want 1", len(got))
	}
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 0 {
		t.Errorf("second provider contacted despite successful retry")
	}
}

func TestOrchestrator_PermanentSendFailureAdvances(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)
	f.gateway.failNext(providers[0].Phone, &gateway.GatewayError{StatusCode: 400, Message: "invalid number"})

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if state.CurrentIndex != 1 || state.Status != domain.StatusPending {
		t.Errorf("state = index %d status %s, want index 1 PENDING", state.CurrentIndex, state.Status)
	}
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 1 {
		t.Errorf("offers to second provider = %d, want 1", len(got))
	}
	if _, ok := f.tracker.ResolveAwaited(providers[0].Phone); ok {
		t.Error("failed provider should not stay awaited")
	}

	// The failed attempt is in the audit log with its error.
	var failed int
	f.attempts.mu.Lock()
	for _, a := range f.attempts.attempts {
		if a.Error != nil {
			failed++
		}
	}
	f.attempts.mu.Unlock()
	if failed != 1 {
		t.Errorf("failed attempts = %d, want 1", failed)
	}
}

func TestOrchestrator_RepeatedTransientFailureAdvances(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)
	f.gateway.failNext(providers[0].Phone,
		&gateway.GatewayError{StatusCode: 429, Transient: true},
		&gateway.GatewayError{StatusCode: 429, Transient: true},
	)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if state.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1 after retry budget exhausted", state.CurrentIndex)
	}
	if got := f.gateway.sentTo(providers[1].Phone); len(got) != 1 {
		t.Errorf("offers to second provider = %d, want 1", len(got))
	}
}

func TestOrchestrator_AllSendsFailExhaustsJob(t *testing.T) {
	providers := testProviders(2)
	f := newOrchestratorFixture(t, providers)
	for _, p := range providers {
		f.gateway.failNext(p.Phone, &gateway.GatewayError{StatusCode: 400, Message: "invalid number"})
	}

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if state.Status != domain.StatusExhausted {
		t.Errorf("status = %s, want %s", state.Status, domain.StatusExhausted)
	}
	types := f.publisher.eventTypes()
	if types[len(types)-1] != queue.EventJobExhausted {
		t.Errorf("last event = %s, want %s", types[len(types)-1], queue.EventJobExhausted)
	}
}

func TestOrchestrator_ExpireStale(t *testing.T) {
	providers := testProviders(1)
	f := newOrchestratorFixture(t, providers)

	state, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin"))
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	expired := f.orchestrator.ExpireStale(context.Background(), time.Now().UTC().Add(time.Minute))
	if len(expired) != 1 || expired[0].JobID != state.JobID {
		t.Fatalf("ExpireStale() = %+v, want the pending job", expired)
	}
	if expired[0].Status != domain.StatusExpired {
		t.Errorf("status = %s, want %s", expired[0].Status, domain.StatusExpired)
	}

	types := f.publisher.eventTypes()
	if types[len(types)-1] != queue.EventJobExpired {
		t.Errorf("last event = %s, want %s", types[len(types)-1], queue.EventJobExpired)
	}
	if f.jobs.statusUpdates[state.JobID] != domain.StatusExpired {
		t.Errorf("job log status = %s, want %s", f.jobs.statusUpdates[state.JobID], domain.StatusExpired)
	}

	// A reply after expiry is unmatched.
	outcome, err := f.orchestrator.HandleReply(context.Background(), providers[0].Phone, "ACCEPT")
	if !errors.Is(err, domain.ErrUnmatchedReply) || outcome != OutcomeIgnored {
		t.Errorf("post-expiry reply = (%s, %v), want (%s, ErrUnmatchedReply)", outcome, err, OutcomeIgnored)
	}
}

func TestExpirySweeper_Sweep(t *testing.T) {
	providers := testProviders(1)
	f := newOrchestratorFixture(t, providers)

	if _, err := f.orchestrator.CreateJob(context.Background(), testJob("Austin")); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	sweeper, err := NewExpirySweeper(f.orchestrator, time.Minute, 4*time.Hour, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewExpirySweeper() error = %v", err)
	}

	// Job is fresh, nothing expires.
	if got := sweeper.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep() = %d, want 0", got)
	}

	// Shift the sweeper clock past the TTL.
	sweeper.now = func() time.Time { return time.Now().UTC().Add(5 * time.Hour) }
	if got := sweeper.Sweep(context.Background()); got != 1 {
		t.Errorf("Sweep() after TTL = %d, want 1", got)
	}
}

func TestNewExpirySweeper_Validation(t *testing.T) {
	f := newOrchestratorFixture(t, nil)

	if _, err := NewExpirySweeper(nil, time.Minute, time.Hour, nil); err == nil {
		t.Error("nil orchestrator should be rejected")
	}
	if _, err := NewExpirySweeper(f.orchestrator, 0, time.Hour, nil); err == nil {
		t.Error("zero interval should be rejected")
	}
	if _, err := NewExpirySweeper(f.orchestrator, time.Minute, 0, nil); err == nil {
		t.Error("zero ttl should be rejected")
	}
}

func transientDirErr() error {
	return &directory.DirectoryError{StatusCode: 503, Message: "upstream unavailable", Transient: true}
}
