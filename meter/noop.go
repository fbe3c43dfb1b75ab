package meter

import "github.com/penscribe/llmgate"

// NoopMeter discards all events.
type NoopMeter struct{}

var _ llmgate.Meter = (*NoopMeter)(nil)

func (*NoopMeter) OnAdmit(llmgate.AdmitEvent)     {}
func (*NoopMeter) OnAttempt(llmgate.AttemptEvent) {}
func (*NoopMeter) OnResult(llmgate.ResultEvent)   {}
