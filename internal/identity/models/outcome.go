package models

import "fmt"

// Action is the operation the scorer reports having performed.
type Action string

const (
	ActionEnroll          Action = "enroll"
	ActionVerify          Action = "verify"
	ActionVerifyAndEnroll Action = "verify;enroll"
)

// Known reports whether the action is one of the three the scorer contract defines.
func (a Action) Known() bool {
	switch a {
	case ActionEnroll, ActionVerify, ActionVerifyAndEnroll:
		return true
	}
	return false
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeVerified OutcomeKind = iota + 1
	OutcomeError
)

// Verification is a scorer decision about one identity.
type Verification struct {
	Match          bool
	// HighConfidence is reported by auto replies only.
	HighConfidence bool
	Action         Action
	// CandidateID is the identity the samples were compared against. Zero for
	// auto calls, which are keyed by primary identifier.
	CandidateID    int64
}

// Failure is a scorer error payload. It never aborts a request on its own.
type Failure struct {
	Name    string
	Message string
	Code    int
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%d): %s", f.Name, f.Code, f.Message)
}

// Outcome is a tagged Verified|Error result from the verification client.
// Exactly one of Verification and Failure is set, matching Kind.
type Outcome struct {
	Kind         OutcomeKind
	Verification *Verification
	Failure      *Failure
}

// Verified builds a Verified outcome.
func Verified(v Verification) Outcome {
	return Outcome{Kind: OutcomeVerified, Verification: &v}
}

// Failed builds an Error outcome.
func Failed(name, message string, code int) Outcome {
	return Outcome{Kind: OutcomeError, Failure: &Failure{Name: name, Message: message, Code: code}}
}

func (o Outcome) IsError() bool {
	return o.Kind != OutcomeVerified || o.Verification == nil
}
