package enroll

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"testing"

	"qazna.org/console/internal/api"
	"qazna.org/console/internal/transport"
)

type fakeService struct {
	mu          sync.Mutex
	secret      string
	accept      string
	rejectBody  string
	setupCalls  int
	verifyCalls int
	setupErr    error
	verifyGate  chan struct{}
}

func (s *fakeService) SetupTOTP(context.Context) (api.TOTPSetup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCalls++
	if s.setupErr != nil {
		return api.TOTPSetup{}, s.setupErr
	}
	return api.TOTPSetup{Secret: s.secret, QRCode: "otpauth://totp/qazna:amina?secret=" + s.secret}, nil
}

func (s *fakeService) VerifyTOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	s.verifyCalls++
	gate := s.verifyGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if code == s.accept {
		return nil
	}
	return &transport.StatusError{StatusCode: http.StatusBadRequest, Body: []byte(s.rejectBody)}
}

type countingRefresher struct{ calls int }

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls++
	return nil
}

func TestFilterDigits(t *testing.T) {
	cases := map[string]string{
		"123456":      "123456",
		"12 34-56":    "123456",
		"1234567":     "123456",
		"abc":         "",
		"١٢٣456":      "456",
		"0a1b2c3d4e5": "012345",
	}
	for raw, want := range cases {
		if got := FilterDigits(raw, CodeLength); got != want {
			t.Fatalf("FilterDigits(%q) = %q, want %q", raw, got, want)
		}
	}
	if !ValidCode("000000") || ValidCode("12345") || ValidCode("12345a") {
		t.Fatalf("ValidCode mismatch")
	}
}

func TestRetryPreservesMaterials(t *testing.T) {
	svc := &fakeService{secret: "S", accept: "654321", rejectBody: `{"detail":"Invalid TOTP code"}`}
	refresher := &countingRefresher{}
	flow := NewFlow(svc, refresher)
	ctx := context.Background()

	st, err := flow.Start(ctx)
	if err != nil || st.Phase != AwaitingVerification || st.Secret != "S" {
		t.Fatalf("Start = %+v, %v", st, err)
	}

	if _, err := flow.Input("123456"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	err = flow.Submit(ctx)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	st = flow.State()
	if st.Phase != AwaitingVerification || st.Secret != "S" || st.Failure != "Invalid TOTP code" {
		t.Fatalf("unexpected state after rejection %+v", st)
	}
	if refresher.calls != 0 {
		t.Fatalf("rejection must not refresh the identity")
	}

	if _, err := flow.Input("654321"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if svc.setupCalls != 1 {
		t.Fatalf("expected a single setup call, got %d", svc.setupCalls)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected identity refresh, got %d", refresher.calls)
	}
	if st := flow.State(); st != (State{Phase: Idle}) {
		t.Fatalf("expected materials discarded, got %+v", st)
	}
}

func TestFailureReasons(t *testing.T) {
	cases := map[string]string{
		`{"detail":"Invalid TOTP code"}`:                      "Invalid TOTP code",
		`{"detail":[{"msg":"Code expired"},{"msg":"Retry"}]}`: "Code expired; Retry",
		`{"message":"nope"}`:                                  GenericFailure,
		``:                                                    GenericFailure,
	}
	for body, want := range cases {
		svc := &fakeService{secret: "S", accept: "999999", rejectBody: body}
		flow := NewFlow(svc, nil)
		if _, err := flow.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		_, _ = flow.Input("111111")
		_ = flow.Submit(context.Background())
		if got := flow.State().Failure; got != want {
			t.Fatalf("body %q: failure %q, want %q", body, got, want)
		}
	}
}

func TestSubmitRequiresSixDigits(t *testing.T) {
	svc := &fakeService{secret: "S", accept: "123456"}
	flow := NewFlow(svc, nil)
	if err := flow.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit while idle: %v", err)
	}
	if _, err := flow.Input("1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("input while idle: %v", err)
	}
	if _, err := flow.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := flow.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second start: %v", err)
	}

	code, _ := flow.Input("12a34")
	if code != "1234" {
		t.Fatalf("expected filtered code, got %q", code)
	}
	if err := flow.Submit(context.Background()); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if svc.verifyCalls != 0 {
		t.Fatalf("invalid codes must not reach the server")
	}
	if flow.State().Phase != AwaitingVerification {
		t.Fatalf("validation failure must not change phase")
	}
}

func TestSetupFailureStaysIdle(t *testing.T) {
	svc := &fakeService{setupErr: &transport.StatusError{StatusCode: http.StatusConflict, Body: []byte(`{"detail":"TOTP already enabled"}`)}}
	flow := NewFlow(svc, nil)
	_, err := flow.Start(context.Background())
	if !errors.Is(err, ErrSetupFailed) || err.Error() != "enroll: setup failed: TOTP already enabled" {
		t.Fatalf("unexpected error %v", err)
	}
	if flow.State().Phase != Idle {
		t.Fatalf("expected idle, got %s", flow.State().Phase)
	}
}

func TestAbandonDiscardsEverything(t *testing.T) {
	svc := &fakeService{secret: "S", accept: "123456"}
	flow := NewFlow(svc, nil)
	_, _ = flow.Start(context.Background())
	_, _ = flow.Input("12")
	flow.Abandon()
	if st := flow.State(); st != (State{Phase: Idle}) {
		t.Fatalf("expected empty idle state, got %+v", st)
	}
	if svc.verifyCalls != 0 {
		t.Fatalf("abandon must not call the server")
	}
}

func TestAbandonDuringSubmitIgnoresResult(t *testing.T) {
	svc := &fakeService{secret: "S", accept: "123456", verifyGate: make(chan struct{})}
	refresher := &countingRefresher{}
	flow := NewFlow(svc, refresher)
	_, _ = flow.Start(context.Background())
	_, _ = flow.Input("123456")

	done := make(chan error, 1)
	go func() { done <- flow.Submit(context.Background()) }()
	for flow.State().Phase != Submitting {
		runtime.Gosched()
	}
	flow.Abandon()
	close(svc.verifyGate)

	if err := <-done; !errors.Is(err, ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("abandoned enrollment must not refresh")
	}
	if flow.State().Phase != Idle {
		t.Fatalf("expected idle")
	}
}

func TestObserversSeeEveryPhase(t *testing.T) {
	svc := &fakeService{secret: "S", accept: "123456", rejectBody: `{"detail":"bad"}`}
	flow := NewFlow(svc, &countingRefresher{})
	var seen []Phase
	flow.Observe(func(tr Transition) { seen = append(seen, tr.To) })

	ctx := context.Background()
	_, _ = flow.Start(ctx)
	_, _ = flow.Input("000000")
	_ = flow.Submit(ctx)
	_, _ = flow.Input("123456")
	_ = flow.Submit(ctx)

	want := []Phase{AwaitingVerification, Submitting, Failed, AwaitingVerification, Submitting, Enrolled, Idle}
	if len(seen) != len(want) {
		t.Fatalf("phases %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("phases %v, want %v", seen, want)
		}
	}
}
