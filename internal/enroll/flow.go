// Package enroll runs the second-factor enrollment flow as an explicit state
// machine. Enrollment state lives only in memory.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"qazna.org/console/internal/api"
	"qazna.org/console/internal/audit"
	"qazna.org/console/internal/obs"
)

// GenericFailure is shown when the server gives no usable reason.
const GenericFailure = "Verification failed. Check the code and try again."

var (
	ErrInvalidCode        = errors.New("enroll: code must be exactly 6 digits")
	ErrInvalidTransition  = errors.New("enroll: operation not allowed in current phase")
	ErrVerificationFailed = errors.New("enroll: verification failed")
	ErrSetupFailed        = errors.New("enroll: setup failed")
	ErrAbandoned          = errors.New("enroll: flow abandoned")
)

// Phase is the enrollment phase.
type Phase int

const (
	Idle Phase = iota
	AwaitingVerification
	Submitting
	Enrolled
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingVerification:
		return "awaiting_verification"
	case Submitting:
		return "submitting"
	case Enrolled:
		return "enrolled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of the flow.
type State struct {
	Phase   Phase
	Secret  string
	QRCode  string
	Code    string
	Failure string
}

// Transition is delivered to observers on every phase change.
type Transition struct {
	From  Phase
	To    Phase
	State State
}

// Service is the server side of enrollment. *api.Dashboard implements it.
type Service interface {
	SetupTOTP(ctx context.Context) (api.TOTPSetup, error)
	VerifyTOTP(ctx context.Context, code string) error
}

// Refresher re-reads the identity after a successful enrollment.
// *session.Manager implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Flow drives one user's enrollment. Transitions happen only through its
// methods.
type Flow struct {
	service   Service
	refresher Refresher

	mu        sync.Mutex
	state     State
	gen       uint64
	observers []func(Transition)
}

// NewFlow returns an idle flow.
func NewFlow(service Service, refresher Refresher) *Flow {
	return &Flow{service: service, refresher: refresher}
}

// Observe registers fn for every phase change. Observers run synchronously
// and must not call back into the flow.
func (f *Flow) Observe(fn func(Transition)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
}

// State returns a snapshot.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start requests enrollment materials and moves to AwaitingVerification.
func (f *Flow) Start(ctx context.Context) (State, error) {
	f.mu.Lock()
	if f.state.Phase != Idle {
		defer f.mu.Unlock()
		return f.state, fmt.Errorf("%w: start from %s", ErrInvalidTransition, f.state.Phase)
	}
	gen := f.gen
	f.mu.Unlock()

	setup, err := f.service.SetupTOTP(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.state.Phase != Idle {
		return f.state, ErrAbandoned
	}
	if err != nil {
		reason := failureReason(err)
		obs.Log(obs.LevelWarn, "totp_setup_failed", map[string]any{"error": err.Error()})
		return f.state, fmt.Errorf("%w: %s", ErrSetupFailed, reason)
	}
	f.moveLocked(State{Phase: AwaitingVerification, Secret: setup.Secret, QRCode: setup.QRCode})
	return f.state, nil
}

// Input replaces the entered code. Non-digits are dropped and the code is
// capped at CodeLength digits.
func (f *Flow) Input(raw string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Phase != AwaitingVerification {
		return "", fmt.Errorf("%w: input during %s", ErrInvalidTransition, f.state.Phase)
	}
	f.state.Code = FilterDigits(raw, CodeLength)
	return f.state.Code, nil
}

// Submit verifies the entered code. On success the identity is refreshed and
// the flow returns to Idle with its materials discarded. On failure it returns
// to AwaitingVerification with the materials retained and State.Failure set.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Phase != AwaitingVerification {
		defer f.mu.Unlock()
		return fmt.Errorf("%w: submit during %s", ErrInvalidTransition, f.state.Phase)
	}
	if !ValidCode(f.state.Code) {
		f.mu.Unlock()
		return ErrInvalidCode
	}
	code := f.state.Code
	pending := f.state
	pending.Phase = Submitting
	pending.Failure = ""
	f.moveLocked(pending)
	gen := f.gen
	f.mu.Unlock()

	err := f.service.VerifyTOTP(ctx, code)

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return ErrAbandoned
	}
	if err != nil {
		reason := failureReason(err)
		failed := f.state
		failed.Phase = Failed
		failed.Code = ""
		failed.Failure = reason
		f.moveLocked(failed)
		retry := failed
		retry.Phase = AwaitingVerification
		f.moveLocked(retry)
		f.mu.Unlock()
		if logErr := audit.LogEvent(ctx, audit.EventTOTPRejected, map[string]any{"reason": reason}); logErr != nil {
			obs.Log(obs.LevelWarn, "audit_failed", map[string]any{"error": logErr.Error()})
		}
		return fmt.Errorf("%w: %s", ErrVerificationFailed, reason)
	}
	f.mu.Unlock()

	if logErr := audit.LogEvent(ctx, audit.EventTOTPEnrolled, nil); logErr != nil {
		obs.Log(obs.LevelWarn, "audit_failed", map[string]any{"error": logErr.Error()})
	}
	if f.refresher != nil {
		if err := f.refresher.Refresh(ctx); err != nil {
			obs.Log(obs.LevelWarn, "identity_refresh_failed", map[string]any{"error": err.Error()})
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen == gen {
		f.gen++
		f.moveLocked(State{Phase: Enrolled})
		f.moveLocked(State{Phase: Idle})
	}
	return nil
}

// Abandon discards the flow. Any in-flight setup or verification result is
// ignored.
func (f *Flow) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	if f.state.Phase == Idle {
		return
	}
	f.moveLocked(State{Phase: Idle})
}

func (f *Flow) moveLocked(next State) {
	from := f.state.Phase
	f.state = next
	if from == next.Phase {
		return
	}
	t := Transition{From: from, To: next.Phase, State: next}
	for _, fn := range f.observers {
		fn(t)
	}
}

func failureReason(err error) string {
	if msg, ok := api.DetailMessage(err); ok {
		return msg
	}
	return GenericFailure
}
