package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jobrelay/sms-relay/internal/domain"
)

// Tracker holds the live dispatch state for every in-flight job: a map from
// job id to state plus a secondary index from awaited phone numbers to job
// ids for O(1) reply routing. A provider can be the current candidate of
// several jobs at once, so the index keeps a queue per phone and replies
// route to the oldest entry. One mutex guards both maps and every state
// transition, so accept/decline/expire are atomic and each job awaits at
// most one provider under concurrent webhooks.
//
// State lives in process memory only and is lost on restart.
type Tracker struct {
	mu      sync.Mutex
	jobs    map[string]*domain.DispatchState
	awaited map[string][]string
	now     func() time.Time
}

// Advance is the result of consuming the current candidate of a job. Next is
// nil once the candidate list is exhausted.
type Advance struct {
	State domain.DispatchState
	Next  *domain.Provider
}

func NewTracker() *Tracker {
	return &Tracker{
		jobs:    make(map[string]*domain.DispatchState),
		awaited: make(map[string][]string),
		now:     time.Now,
	}
}

// Register stores a new dispatch state and indexes its awaited provider.
func (t *Tracker) Register(state *domain.DispatchState) error {
	if state == nil {
		return fmt.Errorf("%w: dispatch state is required", domain.ErrValidation)
	}
	if strings.TrimSpace(state.JobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.jobs[state.JobID]; exists {
		return fmt.Errorf("%w: job %q is already tracked", domain.ErrConflict, state.JobID)
	}

	t.jobs[state.JobID] = state
	if current, ok := state.Current(); ok {
		t.awaitLocked(current.Phone, state.JobID)
	}

	return nil
}

// Get returns a snapshot of the dispatch state for a job.
func (t *Tracker) Get(jobID string) (domain.DispatchState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[jobID]
	if !ok {
		return domain.DispatchState{}, fmt.Errorf("%w: job %q", domain.ErrNotFound, jobID)
	}
	return *state, nil
}

// ResolveAwaited reports which job, if any, a reply from phone would route
// to right now.
func (t *Tracker) ResolveAwaited(phone string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.awaited[domain.NormalizePhone(phone)]
	if len(queue) == 0 {
		return "", false
	}
	return queue[0], true
}

// Accept marks the oldest job awaited by phone as ACCEPTED and releases its
// index entry. A phone that is not awaited (stale, superseded, or duplicate
// reply) resolves to ErrUnmatchedReply.
func (t *Tracker) Accept(phone string) (domain.DispatchState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, normalized, err := t.awaitedLocked(phone)
	if err != nil {
		return domain.DispatchState{}, err
	}

	current, _ := state.Current()
	accepted := current
	state.Status = domain.StatusAccepted
	state.AcceptedBy = &accepted
	state.UpdatedAt = t.now().UTC()
	t.releaseLocked(normalized, state.JobID)

	return *state, nil
}

// Decline consumes the candidate of the oldest job awaited by phone and
// moves that job to the next candidate, or to EXHAUSTED when none remains.
func (t *Tracker) Decline(phone string) (Advance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, normalized, err := t.awaitedLocked(phone)
	if err != nil {
		return Advance{}, err
	}

	return t.advanceLocked(state, normalized), nil
}

// FailCurrent consumes the current candidate of a job after its offer SMS
// could not be delivered. The expected phone guards against racing replies:
// if the state moved on in the meantime, nothing changes.
func (t *Tracker) FailCurrent(jobID string, phone string) (Advance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[jobID]
	if !ok {
		return Advance{}, fmt.Errorf("%w: job %q", domain.ErrNotFound, jobID)
	}

	current, ok := state.Current()
	if !ok || domain.NormalizePhone(current.Phone) != domain.NormalizePhone(phone) {
		return Advance{}, fmt.Errorf("%w: job %q no longer awaits %s", domain.ErrConflict, jobID, phone)
	}

	return t.advanceLocked(state, domain.NormalizePhone(current.Phone)), nil
}

// ExpireBefore marks every PENDING job not updated since cutoff as EXPIRED
// and drops terminal states older than cutoff from the maps. Returns the
// states that expired on this pass.
func (t *Tracker) ExpireBefore(cutoff time.Time) []domain.DispatchState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []domain.DispatchState
	for jobID, state := range t.jobs {
		if !state.UpdatedAt.Before(cutoff) {
			continue
		}

		if state.Status == domain.StatusPending {
			if current, ok := state.Current(); ok {
				t.releaseLocked(domain.NormalizePhone(current.Phone), state.JobID)
			}
			state.Status = domain.StatusExpired
			state.UpdatedAt = t.now().UTC()
			expired = append(expired, *state)
			continue
		}

		// Terminal states are kept around for inspection until they age out.
		delete(t.jobs, jobID)
	}

	return expired
}

// ActiveCount returns the number of jobs awaiting a provider reply.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, queue := range t.awaited {
		count += len(queue)
	}
	return count
}

// awaitLocked appends jobID to the reply queue of phone.
func (t *Tracker) awaitLocked(phone string, jobID string) {
	normalized := domain.NormalizePhone(phone)
	t.awaited[normalized] = append(t.awaited[normalized], jobID)
}

// releaseLocked removes jobID from the reply queue of the already
// normalized phone.
func (t *Tracker) releaseLocked(normalized string, jobID string) {
	queue := t.awaited[normalized]
	for i, id := range queue {
		if id != jobID {
			continue
		}
		queue = append(queue[:i], queue[i+1:]...)
		break
	}

	if len(queue) == 0 {
		delete(t.awaited, normalized)
		return
	}
	t.awaited[normalized] = queue
}

// awaitedLocked resolves a reply phone to the oldest job awaiting it.
func (t *Tracker) awaitedLocked(phone string) (*domain.DispatchState, string, error) {
	normalized := domain.NormalizePhone(phone)
	for _, jobID := range t.awaited[normalized] {
		if state, ok := t.jobs[jobID]; ok {
			return state, normalized, nil
		}
	}

	return nil, "", fmt.Errorf("%w: %s", domain.ErrUnmatchedReply, phone)
}

func (t *Tracker) advanceLocked(state *domain.DispatchState, awaitedPhone string) Advance {
	t.releaseLocked(awaitedPhone, state.JobID)

	state.CurrentIndex++
	state.UpdatedAt = t.now().UTC()

	if state.CurrentIndex < len(state.Candidates) {
		next := state.Candidates[state.CurrentIndex]
		t.awaitLocked(next.Phone, state.JobID)
		return Advance{State: *state, Next: &next}
	}

	state.Status = domain.StatusExhausted
	return Advance{State: *state}
}
