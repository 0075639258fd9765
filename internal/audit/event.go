// Package audit records how each resolution request was decided.
package audit

import "time"

// Decision names the branch of the resolution algorithm that produced the
// result. Values are stable: they are metric labels and audit payloads.
type Decision string

const (
	DecisionFastPath            Decision = "fast_path"
	DecisionWeakSetInconsistent Decision = "weak_set_inconsistent"
	DecisionScorerError         Decision = "scorer_error"
	DecisionEnrollAnomaly       Decision = "enroll_anomaly"
	DecisionNoMatch             Decision = "no_match"
	DecisionUniqueMatch         Decision = "unique_match"
	DecisionAmbiguous           Decision = "ambiguous"
	DecisionContractViolation   Decision = "contract_violation"
)

// Event describes one resolution. ResolvedID is zero when the request failed.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	PrimaryID  string    `json:"fingerprint_id"`
	WeakID     string    `json:"weak_fingerprint_id"`
	AnchorID   int64     `json:"anchor_id"`
	ResolvedID int64     `json:"resolved_id,omitempty"`
	Decision   Decision  `json:"decision"`
	Candidates []int64   `json:"candidates,omitempty"`
	Verified   []int64   `json:"verified,omitempty"`
	Created    bool      `json:"created"`
}
