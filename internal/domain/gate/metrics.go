package gate

import "time"

// MetricsSink receives fire-and-forget observations from the pipeline.
// Implementations must not block and never report failures back.
type MetricsSink interface {
	RecordRequest(method string, status int, duration time.Duration)
	RecordRateLimited()
	RecordAuthFailure(code string)
}

// NopSink discards all observations.
type NopSink struct{}

func (NopSink) RecordRequest(string, int, time.Duration) {}
func (NopSink) RecordRateLimited()                       {}
func (NopSink) RecordAuthFailure(string)                 {}

// MultiSink fans every observation out to each sink in order.
type MultiSink []MetricsSink

func (m MultiSink) RecordRequest(method string, status int, d time.Duration) {
	for _, s := range m {
		s.RecordRequest(method, status, d)
	}
}

func (m MultiSink) RecordRateLimited() {
	for _, s := range m {
		s.RecordRateLimited()
	}
}

func (m MultiSink) RecordAuthFailure(code string) {
	for _, s := range m {
		s.RecordAuthFailure(code)
	}
}

var (
	_ MetricsSink = NopSink{}
	_ MetricsSink = MultiSink(nil)
)
