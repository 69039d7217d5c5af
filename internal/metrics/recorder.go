// Package metrics exposes cycle observability hooks. The Prometheus implementation is
// used when a listen address is configured; NoopRecorder otherwise.
package metrics

import "time"

// OutcomeLabel enumerates how a cycle ended.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeAborted  OutcomeLabel = "aborted"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
)

// Recorder defines observability hooks for cycles and their candidates.
type Recorder interface {
	ObserveCycle(sourceID string, outcome OutcomeLabel, d time.Duration)
	AddItems(action string, n int)
	IncRetry(sourceID string)
	IncRateLimited(sourceID string)
	SetConsecutiveErrors(sourceID string, n int)
	AddSwept(n int64)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveCycle(string, OutcomeLabel, time.Duration) {}
func (NoopRecorder) AddItems(string, int)                             {}
func (NoopRecorder) IncRetry(string)                                  {}
func (NoopRecorder) IncRateLimited(string)                            {}
func (NoopRecorder) SetConsecutiveErrors(string, int)                 {}
func (NoopRecorder) AddSwept(int64)                                   {}
