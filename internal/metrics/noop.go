package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, runsStarted int, err error)   {}
func (n *NoopSink) TickDrift(drift time.Duration)                                      {}
func (n *NoopSink) RunSkipped(reason string)                                           {}
func (n *NoopSink) RunFinished(status string, duration time.Duration)                  {}
func (n *NoopSink) SourceFetched(source string, records int, d time.Duration, e error) {}
func (n *NoopSink) RecordsDropped(source string, count int)                            {}
func (n *NoopSink) CandidateScored(finalScore float64)                                 {}
func (n *NoopSink) SuggestionsGenerated(count, cooldownSkips int)                      {}
func (n *NoopSink) DeliveryAttemptCompleted(channel, class string, d time.Duration)    {}
func (n *NoopSink) DeliveryOutcome(channel, outcome string)                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                        {}
func (n *NoopSink) PublishFinished(state string)                                       {}
func (n *NoopSink) EventsInFlightIncr()                                                {}
func (n *NoopSink) EventsInFlightDecr()                                                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                     {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) OrphanedApprovalsUpdate(count int)                                  {}
func (n *NoopSink) StaleRunsFailed(count int)                                          {}
func (n *NoopSink) SuggestionsExpired(count int)                                       {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderAcquired()                                                    {}
func (n *NoopSink) LeaderLost(reason string)                                           {}
