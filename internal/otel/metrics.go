package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce       sync.Once
	runsStartedCounter    metric.Int64Counter
	runsClosedCounter     metric.Int64Counter
	runDuration           metric.Float64Histogram
	admissionRejections   metric.Int64Counter
	agentTurnsCounter     metric.Int64Counter
	streamEventsCounter   metric.Int64Counter
	streamSubscriberGauge metric.Int64ObservableGauge
	streamSubscribers     int64
	streamSubscribersMu   sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		runsStartedCounter, err = m.Int64Counter("claudorc_agent_runs_started_total", metric.WithDescription("Total agent runs started"))
		if err != nil {
			return
		}
		runsClosedCounter, err = m.Int64Counter("claudorc_agent_runs_closed_total", metric.WithDescription("Total agent runs closed, by final status"))
		if err != nil {
			return
		}
		runDuration, err = m.Float64Histogram("claudorc_agent_run_duration_seconds", metric.WithDescription("Agent run duration in seconds"))
		if err != nil {
			return
		}
		admissionRejections, err = m.Int64Counter("claudorc_admission_rejections_total", metric.WithDescription("Total agent starts rejected by the concurrency limit"))
		if err != nil {
			return
		}
		agentTurnsCounter, err = m.Int64Counter("claudorc_agent_turns_total", metric.WithDescription("Total agent turns executed"))
		if err != nil {
			return
		}
		streamEventsCounter, err = m.Int64Counter("claudorc_stream_events_total", metric.WithDescription("Total stream events published"))
		if err != nil {
			return
		}
		streamSubscriberGauge, err = m.Int64ObservableGauge("claudorc_stream_subscribers", metric.WithDescription("Current stream subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			streamSubscribersMu.Lock()
			n := streamSubscribers
			streamSubscribersMu.Unlock()
			o.ObserveInt64(streamSubscriberGauge, n)
			return nil
		}, streamSubscriberGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordRunStarted records one agent run started.
func RecordRunStarted(ctx context.Context, project string) {
	if runsStartedCounter != nil {
		runsStartedCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project)))
	}
}

// RecordRunClosed records a closed run with its final status and duration.
func RecordRunClosed(ctx context.Context, project, status string, duration time.Duration) {
	if runsClosedCounter != nil {
		runsClosedCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project), AttrStatus.String(status)))
	}
	if runDuration != nil {
		runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrProject.String(project), AttrStatus.String(status)))
	}
}

// RecordAdmissionRejection records one start refused by the concurrency limit.
func RecordAdmissionRejection(ctx context.Context, project string) {
	if admissionRejections != nil {
		admissionRejections.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project)))
	}
}

// RecordAgentTurn records one agent turn.
func RecordAgentTurn(ctx context.Context, agent string) {
	if agentTurnsCounter != nil {
		agentTurnsCounter.Add(ctx, 1, metric.WithAttributes(AttrAgent.String(agent)))
	}
}

// RecordStreamEvent records one event published to a stream.
func RecordStreamEvent(ctx context.Context, eventType string) {
	if streamEventsCounter != nil {
		streamEventsCounter.Add(ctx, 1, metric.WithAttributes(AttrType.String(eventType)))
	}
}

// AddStreamSubscriber adds 1 to the subscriber gauge (call on subscribe).
func AddStreamSubscriber() {
	streamSubscribersMu.Lock()
	streamSubscribers++
	streamSubscribersMu.Unlock()
}

// RemoveStreamSubscriber subtracts 1 from the subscriber gauge (call on unsubscribe).
func RemoveStreamSubscriber() {
	streamSubscribersMu.Lock()
	streamSubscribers--
	if streamSubscribers < 0 {
		streamSubscribers = 0
	}
	streamSubscribersMu.Unlock()
}
