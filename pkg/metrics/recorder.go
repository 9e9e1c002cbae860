// Package metrics provides metrics recording for compliance job processing.
package metrics

import "time"

// Job outcome labels.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobRejected  = "rejected"
)

// Recorder defines the interface for recording compliance processing metrics.
type Recorder interface {
	// ObserveJob records one finished compliance job and its outcome.
	ObserveJob(status string, duration time.Duration)

	// AddRecords counts records admitted into processing.
	AddRecords(n int)

	// ObserveRuleCall records one rule execution against one record.
	ObserveRuleCall(ruleID string, failed bool, duration time.Duration)

	// ObserveGateWait records time spent waiting at the rate-limit gate.
	ObserveGateWait(d time.Duration)

	// IncPromptVersionChange counts a cached prompt replaced by a newer
	// registry version.
	IncPromptVersionChange(ruleID string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveJob(_ string, _ time.Duration) {}

func (n *NoopRecorder) AddRecords(_ int) {}

func (n *NoopRecorder) ObserveRuleCall(_ string, _ bool, _ time.Duration) {}

func (n *NoopRecorder) ObserveGateWait(_ time.Duration) {}

func (n *NoopRecorder) IncPromptVersionChange(_ string) {}
