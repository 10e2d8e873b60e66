// Package frosted implements the coordinator's Protocol Engine contract on
// top of the FROST Ed25519 wire format. The coordinator side of FROST never
// holds key material: this engine validates the round packages it relays,
// hands each round-2 submitter the peer bundle from round 1, and admits a
// terminal artifact only once a quorum of participants agrees on it.
package frosted

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/taurusgroup/frost-ed25519/pkg/messages"

	"github.com/rimeworks/rime/coordinator/internal"
)

type Engine struct{}

func New() Engine {
	return Engine{}
}

// engineState is the opaque blob the coordinator persists for us.
type engineState struct {
	Params internal.EngineParams `json:"params"`
	// Round1 holds each participant's hex-encoded frost message.
	Round1 map[string]string `json:"round1"`
	// Round2 holds each participant's hex-encoded artifact candidate.
	Round2 map[string]string `json:"round2"`
}

func (Engine) CreateState(ctx context.Context, params internal.EngineParams) ([]byte, error) {
	if params.Type == internal.TypeSigning && params.GroupPublicKey != "" {
		pk, err := hex.DecodeString(params.GroupPublicKey)
		if err != nil || len(pk) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("group public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
	}
	return json.Marshal(engineState{
		Params: params,
		Round1: map[string]string{},
		Round2: map[string]string{},
	})
}

func (Engine) Advance(ctx context.Context, state []byte, participantID string, round int, input string) (internal.AdvanceResult, error) {
	var st engineState
	if err := json.Unmarshal(state, &st); err != nil {
		return internal.AdvanceResult{}, fmt.Errorf("corrupt engine state: %w", err)
	}

	var out internal.AdvanceResult
	var err error
	switch round {
	case 1:
		out, err = advanceRound1(&st, participantID, input)
	case 2:
		out, err = advanceRound2(&st, participantID, input)
	default:
		return internal.AdvanceResult{}, fmt.Errorf("frost has no round %d", round)
	}
	if err != nil {
		return internal.AdvanceResult{}, err
	}

	newState, merr := json.Marshal(st)
	if merr != nil {
		return internal.AdvanceResult{}, merr
	}
	out.State = newState
	return out, nil
}

// advanceRound1 accepts one frost wire message (keygen commitments or a
// signing nonce commitment) and answers with the bundle of everyone else's
// round-1 packages collected so far.
func advanceRound1(st *engineState, participantID, input string) (internal.AdvanceResult, error) {
	raw, err := hex.DecodeString(input)
	if err != nil {
		return internal.AdvanceResult{}, fmt.Errorf("round 1 package from %s is not hex: %w", participantID, err)
	}
	var msg messages.Message
	if err := msg.UnmarshalBinary(raw); err != nil {
		return internal.AdvanceResult{}, fmt.Errorf("round 1 package from %s is not a frost message: %w", participantID, err)
	}

	st.Round1[participantID] = input

	peers := map[string]string{}
	for id, pkg := range st.Round1 {
		if id != participantID {
			peers[id] = pkg
		}
	}
	bundle, err := json.Marshal(peers)
	if err != nil {
		return internal.AdvanceResult{}, err
	}
	return internal.AdvanceResult{Output: string(bundle)}, nil
}

// advanceRound2 accepts a participant's artifact candidate: the group
// public key it derived (keygen) or the assembled signature (signing).
// The artifact is emitted once a threshold of identical candidates is in.
func advanceRound2(st *engineState, participantID, input string) (internal.AdvanceResult, error) {
	raw, err := hex.DecodeString(input)
	if err != nil {
		return internal.AdvanceResult{}, fmt.Errorf("round 2 package from %s is not hex: %w", participantID, err)
	}

	switch st.Params.Type {
	case internal.TypeSigning:
		if len(raw) != ed25519.SignatureSize {
			return internal.AdvanceResult{}, fmt.Errorf("signature share from %s is %d bytes, want %d", participantID, len(raw), ed25519.SignatureSize)
		}
		if st.Params.GroupPublicKey != "" {
			pk, _ := hex.DecodeString(st.Params.GroupPublicKey)
			if !ed25519.Verify(ed25519.PublicKey(pk), st.Params.Message, raw) {
				return internal.AdvanceResult{}, fmt.Errorf("assembled signature from %s does not verify against the group key", participantID)
			}
		}
	default:
		if len(raw) != ed25519.PublicKeySize {
			return internal.AdvanceResult{}, fmt.Errorf("group key candidate from %s is %d bytes, want %d", participantID, len(raw), ed25519.PublicKeySize)
		}
	}

	// Every candidate must agree; a split here means a participant
	// computed a different transcript, which is unrecoverable.
	for id, prev := range st.Round2 {
		if prev != input {
			return internal.AdvanceResult{}, fmt.Errorf("artifact disagreement between %s and %s", id, participantID)
		}
	}
	st.Round2[participantID] = input

	out := internal.AdvanceResult{Output: "ack"}
	if len(st.Round2) >= st.Params.Threshold {
		out.Artifact = input
	}
	return out, nil
}
