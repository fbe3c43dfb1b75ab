package llmgate

import "time"

// Meter observes pipeline events for monitoring/logging.
type Meter interface {
	// OnAdmit is called after every admission decision.
	OnAdmit(event AdmitEvent)

	// OnAttempt is called before each provider call.
	OnAttempt(event AttemptEvent)

	// OnResult is called when the pipeline reaches a terminal outcome.
	OnResult(event ResultEvent)
}

// AdmitEvent describes an admission decision.
type AdmitEvent struct {
	RequestID  string
	Identifier string
	Tier       Tier
	Action     string
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	FailedOpen bool
}

// AttemptEvent describes a single provider call.
type AttemptEvent struct {
	RequestID string
	Provider  string
	Role      ProviderRole
	Model     string
	Attempt   int
}

// ResultEvent describes the terminal outcome of a generation.
type ResultEvent struct {
	RequestID string
	Provider  string
	Role      ProviderRole
	Model     string
	Tier      Tier
	Success   bool
	Duration  time.Duration
	Kind      Kind
	Err       error
}

// noopMeter is the default meter; it does nothing.
type noopMeter struct{}

func (noopMeter) OnAdmit(AdmitEvent)     {}
func (noopMeter) OnAttempt(AttemptEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
