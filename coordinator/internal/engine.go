package internal

import "context"

// EngineParams carries everything a Protocol Engine needs to set up a
// ceremony's initial opaque state.
type EngineParams struct {
	Type            CeremonyType `json:"type"`
	Threshold       int          `json:"t"`
	MaxParticipants int          `json:"n"`
	Participants    []string     `json:"participants,omitempty"`
	Message         []byte       `json:"message,omitempty"`
	GroupPublicKey  string       `json:"group-public-key,omitempty"`
}

// AdvanceResult is the engine's answer to one round submission. State is
// the replacement opaque state; Output goes back to the submitting
// participant; Artifact, when non-empty, is the terminal product (group
// public key or assembled signature, hex encoded).
type AdvanceResult struct {
	State    []byte
	Output   string
	Artifact string
}

// Engine is the opaque cryptographic state-transition function. The
// coordinator stores and forwards its state but never interprets it. An
// engine error is fatal for the ceremony.
type Engine interface {
	CreateState(ctx context.Context, params EngineParams) ([]byte, error)
	Advance(ctx context.Context, state []byte, participantID string, round int, input string) (AdvanceResult, error)
}
