package internal

import (
	"fmt"
	"time"
)

// CeremonyType is fixed at creation and never changes.
type CeremonyType string

const (
	TypeKeygen  CeremonyType = "keygen"
	TypeSigning CeremonyType = "signing"
)

// Status tracks a ceremony's position in the round protocol. It only moves
// forward along the transition graph, or jumps to StatusFailed.
type Status string

const (
	StatusInit          Status = "init"
	StatusKeygenRound1  Status = "keygen_round1"
	StatusKeygenRound2  Status = "keygen_round2"
	StatusReady         Status = "ready"
	StatusSigningRound1 Status = "signing_round1"
	StatusSigningRound2 Status = "signing_round2"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusComplete || s == StatusFailed
}

// roundStatus maps a round number to the status a ceremony of the given
// type must be in for that round's submissions to be accepted.
func roundStatus(t CeremonyType, round int) (Status, error) {
	switch {
	case t == TypeKeygen && round == 1:
		return StatusKeygenRound1, nil
	case t == TypeKeygen && round == 2:
		return StatusKeygenRound2, nil
	case t == TypeSigning && round == 1:
		return StatusSigningRound1, nil
	case t == TypeSigning && round == 2:
		return StatusSigningRound2, nil
	}
	return "", fmt.Errorf("no round %d for %s ceremonies", round, t)
}

// firstRoundStatus is the state a ceremony enters once enough participants
// have joined.
func firstRoundStatus(t CeremonyType) Status {
	if t == TypeSigning {
		return StatusSigningRound1
	}
	return StatusKeygenRound1
}

// nextStatus advances one step along the transition graph.
func nextStatus(s Status) Status {
	switch s {
	case StatusKeygenRound1:
		return StatusKeygenRound2
	case StatusKeygenRound2:
		return StatusReady
	case StatusSigningRound1:
		return StatusSigningRound2
	case StatusSigningRound2:
		return StatusComplete
	}
	return s
}

// Meta is the per-ceremony record under the "meta" key.
type Meta struct {
	OperationID  string       `json:"operation-id"`
	Type         CeremonyType `json:"type"`
	Status       Status       `json:"status"`
	Participants []string     `json:"participants"`
	CreatedAt    time.Time    `json:"created-at"`
	LastActivity time.Time    `json:"last-activity"`

	// FailureReason is set exactly once, when Status becomes failed.
	FailureReason Code `json:"failure-reason,omitempty"`

	// Terminal artifacts, hex encoded.
	GroupPublicKey string `json:"group-public-key,omitempty"`
	FinalSignature string `json:"final-signature,omitempty"`
}

func (m *Meta) admitted(userID string) bool {
	for _, p := range m.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// CeremonyConfig is immutable after creation, stored under the "config" key.
type CeremonyConfig struct {
	Threshold       int `json:"t"`
	MaxParticipants int `json:"n"`

	// RequiredParticipants is the closed enrollment set for signing
	// ceremonies, or an optional allowlist for keygen.
	RequiredParticipants []string `json:"required-participants,omitempty"`

	// Message is the payload being signed (signing only).
	Message []byte `json:"message,omitempty"`

	// GroupPublicKey, when supplied at init, lets the engine verify the
	// assembled signature (hex encoded).
	GroupPublicKey string `json:"group-public-key,omitempty"`
}

func (c *CeremonyConfig) allowed(userID string) bool {
	if len(c.RequiredParticipants) == 0 {
		return true
	}
	for _, p := range c.RequiredParticipants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoundEntry records one participant's contribution to one round. The
// fields are write-once: a repeat submission for the same round returns the
// stored output instead of overwriting.
type RoundEntry struct {
	Data        string    `json:"data"`
	Output      string    `json:"output"`
	SubmittedAt time.Time `json:"submitted-at"`
}

// ParticipantRecord lives under "participant:{userId}".
type ParticipantRecord struct {
	UserID         string      `json:"user-id"`
	JoinedAt       time.Time   `json:"joined-at"`
	LastActivity   time.Time   `json:"last-activity"`
	Round1         *RoundEntry `json:"round1,omitempty"`
	Round2         *RoundEntry `json:"round2,omitempty"`
	PublicKeyShare string      `json:"public-key-share,omitempty"`
}

func (p *ParticipantRecord) round(n int) *RoundEntry {
	if n == 2 {
		return p.Round2
	}
	return p.Round1
}

func (p *ParticipantRecord) setRound(n int, e *RoundEntry) {
	if n == 2 {
		p.Round2 = e
		return
	}
	p.Round1 = e
}

// WorkingSet is the shared scratch collected from a round, stored under
// "round{n}_working_set" as contributions arrive. Round 2 needs everyone's
// round-1 output, which is why the sets persist instead of living in memory.
type WorkingSet struct {
	Round         int               `json:"round"`
	Contributions map[string]string `json:"contributions"`
}
