package internal

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// EchoEngine is a deterministic Protocol Engine with no cryptography in it.
// It records submissions, answers each with a digest acknowledgement, and
// produces a digest over the final round as its terminal artifact. It backs
// the "echo" engine setting for development, and most tests.
type EchoEngine struct{}

type echoState struct {
	Params EngineParams              `json:"params"`
	Rounds map[int]map[string]string `json:"rounds"`
}

func (EchoEngine) CreateState(ctx context.Context, params EngineParams) ([]byte, error) {
	return json.Marshal(echoState{
		Params: params,
		Rounds: map[int]map[string]string{},
	})
}

func (EchoEngine) Advance(ctx context.Context, state []byte, participantID string, round int, input string) (AdvanceResult, error) {
	var st echoState
	if err := json.Unmarshal(state, &st); err != nil {
		return AdvanceResult{}, fmt.Errorf("corrupt echo state: %w", err)
	}
	if input == "" {
		return AdvanceResult{}, fmt.Errorf("empty round %d input from %s", round, participantID)
	}

	if st.Rounds[round] == nil {
		st.Rounds[round] = map[string]string{}
	}
	st.Rounds[round][participantID] = input

	result := AdvanceResult{
		Output: digest(fmt.Sprintf("r%d|%s|%s", round, participantID, input)),
	}

	// The last protocol round yields the terminal artifact once a quorum
	// has contributed.
	if round == 2 && len(st.Rounds[2]) >= st.Params.Threshold {
		users := make([]string, 0, len(st.Rounds[2]))
		for u := range st.Rounds[2] {
			users = append(users, u)
		}
		sort.Strings(users)
		transcript := ""
		for _, u := range users {
			transcript += u + "=" + st.Rounds[2][u] + ";"
		}
		result.Artifact = digest(string(st.Params.Type) + "|" + transcript)
	}

	newState, err := json.Marshal(st)
	if err != nil {
		return AdvanceResult{}, err
	}
	result.State = newState
	return result, nil
}

func digest(s string) string {
	h := sha512.Sum384([]byte(s))
	return hex.EncodeToString(h[:32])
}
