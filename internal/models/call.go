package models

import (
	"encoding/json"
	"time"
)

// CallStatus is the signaling state of a call attempt. It is monotonic within
// an attempt: offering -> answered -> ended. Ended may be reached directly
// from offering on an early hangup.
type CallStatus string

const (
	CallOffering CallStatus = "offering"
	CallAnswered CallStatus = "answered"
	CallEnded    CallStatus = "ended"
)

// CandidateRole identifies which side of the call produced a candidate.
type CandidateRole string

const (
	RoleCaller CandidateRole = "caller"
	RoleCallee CandidateRole = "callee"
)

// SessionDescription mirrors an SDP offer or answer exchanged between peers.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a network-reachability descriptor produced during
// peer-to-peer connection setup.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Key returns a canonical string form of the candidate used for dedup.
func (c ICECandidate) Key() string {
	raw, _ := json.Marshal(c)
	return string(raw)
}

// CallSignal is the shared signaling document two peers use to negotiate a
// direct audio call. Exactly one exists per chat session during a call's
// lifetime, keyed by the session id. Candidate sequences are append-only.
type CallSignal struct {
	SessionID        string              `json:"sessionId"`
	Offer            *SessionDescription `json:"offer,omitempty"`
	Answer           *SessionDescription `json:"answer,omitempty"`
	CallerCandidates []ICECandidate      `json:"callerCandidates"`
	CalleeCandidates []ICECandidate      `json:"calleeCandidates"`
	Status           CallStatus          `json:"status"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// CandidatesFor returns the candidate sequence published by the given role.
func (s CallSignal) CandidatesFor(role CandidateRole) []ICECandidate {
	if role == RoleCaller {
		return s.CallerCandidates
	}
	return s.CalleeCandidates
}
