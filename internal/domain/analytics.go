package domain

import "time"

// DeliveryStat is one final delivery outcome counted by the analytics sink.
type DeliveryStat struct {
	Vertical string
	Channel  Channel
	Outcome  DeliveryOutcome
	At       time.Time
}

type AnalyticsConfig struct {
	Enabled   bool
	Retention time.Duration // TTL of each daily bucket
}
