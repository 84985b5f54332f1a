// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "fmt"

// Kind classifies a RuleError so callers can map it to a ban decision
// without string-matching the message.
type Kind uint8

const (
	InvalidBlockProof Kind = iota
	InvalidTransaction
	InvalidKernelFeatures
	CutThroughViolation
	ImmatureCoinbase
	DuplicateCommitment
	Orphan
	OutOfHorizon
	StoreError
	PeerMisbehavior
)

func (k Kind) String() string {
	switch k {
	case InvalidBlockProof:
		return "InvalidBlockProof"
	case InvalidTransaction:
		return "InvalidTransaction"
	case InvalidKernelFeatures:
		return "InvalidKernelFeatures"
	case CutThroughViolation:
		return "CutThroughViolation"
	case ImmatureCoinbase:
		return "ImmatureCoinbase"
	case DuplicateCommitment:
		return "DuplicateCommitment"
	case Orphan:
		return "Orphan"
	case OutOfHorizon:
		return "OutOfHorizon"
	case StoreError:
		return "StoreError"
	case PeerMisbehavior:
		return "PeerMisbehavior"
	default:
		return "Unknown"
	}
}

// RuleError is returned by every consensus-facing check. Kind drives the
// ban/retry policy upstream; Msg carries the human detail for logs.
type RuleError struct {
	Kind Kind
	Msg  string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewRuleError(kind Kind, format string, args ...interface{}) *RuleError {
	return &RuleError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsBanOffense reports whether a RuleError of this kind makes a peer's read
// loop disconnect the originating peer at once, instead of counting a
// strike against it.
func (k Kind) IsBanOffense() bool {
	switch k {
	case InvalidBlockProof, InvalidKernelFeatures, CutThroughViolation,
		ImmatureCoinbase, PeerMisbehavior:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether the caller should retry/re-request rather
// than treat the object as permanently rejected.
func (k Kind) IsRecoverable() bool {
	return k == Orphan || k == StoreError
}
