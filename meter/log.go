package meter

import (
	"log/slog"

	"github.com/penscribe/llmgate"
)

// LogMeter logs pipeline events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ llmgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmit(e llmgate.AdmitEvent) {
	if e.Allowed {
		m.Logger.Info("admit",
			"request_id", e.RequestID,
			"identifier", e.Identifier,
			"tier", string(e.Tier),
			"action", e.Action,
			"remaining", e.Remaining,
			"failed_open", e.FailedOpen,
		)
	} else {
		m.Logger.Warn("admit_denied",
			"request_id", e.RequestID,
			"identifier", e.Identifier,
			"tier", string(e.Tier),
			"action", e.Action,
			"reset_at", e.ResetAt,
		)
	}
}

func (m *LogMeter) OnAttempt(e llmgate.AttemptEvent) {
	m.Logger.Info("attempt",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"role", string(e.Role),
		"model", e.Model,
		"attempt", e.Attempt,
	)
}

func (m *LogMeter) OnResult(e llmgate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"role", string(e.Role),
			"model", e.Model,
			"tier", string(e.Tier),
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"role", string(e.Role),
			"model", e.Model,
			"tier", string(e.Tier),
			"kind", e.Kind.String(),
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}
