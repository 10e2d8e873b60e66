package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoEngineDeterministicOutput(t *testing.T) {
	e := EchoEngine{}
	ctx := context.Background()

	state, err := e.CreateState(ctx, EngineParams{Type: TypeKeygen, Threshold: 2})
	require.NoError(t, err)

	a, err := e.Advance(ctx, state, "alice", 1, "commit")
	require.NoError(t, err)
	b, err := e.Advance(ctx, state, "alice", 1, "commit")
	require.NoError(t, err)
	assert.Equal(t, a.Output, b.Output)
	assert.Empty(t, a.Artifact)

	// A different participant or input changes the output.
	c, err := e.Advance(ctx, state, "bob", 1, "commit")
	require.NoError(t, err)
	assert.NotEqual(t, a.Output, c.Output)
}

func TestEchoEngineArtifactAtQuorum(t *testing.T) {
	e := EchoEngine{}
	ctx := context.Background()

	state, err := e.CreateState(ctx, EngineParams{Type: TypeSigning, Threshold: 2})
	require.NoError(t, err)

	r1, err := e.Advance(ctx, state, "alice", 2, "sig-a")
	require.NoError(t, err)
	assert.Empty(t, r1.Artifact)

	r2, err := e.Advance(ctx, r1.State, "bob", 2, "sig-b")
	require.NoError(t, err)
	assert.NotEmpty(t, r2.Artifact)
}

func TestEchoEngineRejectsBadInput(t *testing.T) {
	e := EchoEngine{}
	ctx := context.Background()

	state, err := e.CreateState(ctx, EngineParams{Type: TypeKeygen, Threshold: 1})
	require.NoError(t, err)

	_, err = e.Advance(ctx, state, "alice", 1, "")
	assert.Error(t, err)

	_, err = e.Advance(ctx, []byte("not json"), "alice", 1, "x")
	assert.Error(t, err)
}
