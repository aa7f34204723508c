package clacks

import "sync/atomic"

// Metrics contains atomic counters for a Service.
type Metrics struct {
	// RequestCount is the number of accepted requests, waiting or not.
	RequestCount atomic.Uint64
	// FireAndForgetCount is the number of requests created in StateDone.
	FireAndForgetCount atomic.Uint64
	// RejectCount is the number of submissions refused with an error.
	RejectCount atomic.Uint64
	// ResponseCount is the number of requests resolved by a reply.
	ResponseCount atomic.Uint64
	// TimeoutCount is the number of requests that timed out.
	TimeoutCount atomic.Uint64
	// UncorrelatedCount is the number of replies that matched no waiting request.
	UncorrelatedCount atomic.Uint64
	// ObserverDropCount is the number of packets dropped because an observer queue was full.
	ObserverDropCount atomic.Uint64
}

func (m *Metrics) incRequestCount()       { m.RequestCount.Add(1) }
func (m *Metrics) incFireAndForgetCount() { m.FireAndForgetCount.Add(1) }
func (m *Metrics) incRejectCount()        { m.RejectCount.Add(1) }
func (m *Metrics) incResponseCount()      { m.ResponseCount.Add(1) }
func (m *Metrics) incTimeoutCount()       { m.TimeoutCount.Add(1) }
func (m *Metrics) incUncorrelatedCount()  { m.UncorrelatedCount.Add(1) }
func (m *Metrics) incObserverDropCount()  { m.ObserverDropCount.Add(1) }
