package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Minder metric instruments.
type Metrics struct {
	TurnDuration     metric.Float64Histogram
	LLMCallDuration  metric.Float64Histogram
	LoopStepsTotal   metric.Int64Counter
	ToolCallsTotal   metric.Int64Counter
	ToolCallErrors   metric.Int64Counter
	DigestsSent      metric.Int64Counter
	RemindersSent    metric.Int64Counter
	NotifyFailures   metric.Int64Counter
	MarkerConflicts  metric.Int64Counter
	SweepDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TurnDuration, err = meter.Float64Histogram("minder.turn.duration",
		metric.WithDescription("Chat turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("minder.llm.duration",
		metric.WithDescription("Completion provider call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopStepsTotal, err = meter.Int64Counter("minder.loop.steps",
		metric.WithDescription("Total orchestration loop iterations executed"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallsTotal, err = meter.Int64Counter("minder.tool.calls",
		metric.WithDescription("Tool invocations dispatched"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("minder.tool.errors",
		metric.WithDescription("Tool invocations that reported a failure result"),
	)
	if err != nil {
		return nil, err
	}

	m.DigestsSent, err = meter.Int64Counter("minder.digest.sent",
		metric.WithDescription("Daily digests delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersSent, err = meter.Int64Counter("minder.reminder.sent",
		metric.WithDescription("Pre-event reminders delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifyFailures, err = meter.Int64Counter("minder.notify.failures",
		metric.WithDescription("Push notification delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.MarkerConflicts, err = meter.Int64Counter("minder.sweep.marker_conflicts",
		metric.WithDescription("Conditional marker writes lost to a concurrent tick"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepDuration, err = meter.Float64Histogram("minder.sweep.duration",
		metric.WithDescription("Pre-event sweep tick duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
