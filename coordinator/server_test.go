package main

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/scs/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rimeworks/rime/coordinator/internal"
)

func newTestServer(t *testing.T) *httptest.Server {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, internal.EnsureSchema(db))

	machine := internal.NewMachine(internal.NewSQLiteStore(db), internal.EchoEngine{}, zerolog.Nop())
	coord := internal.NewCoordinator(machine, zerolog.Nop())

	srv := &server{
		coord:    coord,
		sessions: scs.New(),
		log:      zerolog.Nop(),
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		db.Close()
	})
	return ts
}

// newSessionClient returns a client whose cookie jar holds a session bound
// to userID.
func newSessionClient(t *testing.T, ts *httptest.Server, userID string) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	res := postJSON(t, client, ts.URL+"/v1/session", SessionRequest{UserID: userID})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	return client
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := decode[ResponseMainPage](t, res)
	assert.Contains(t, page.Message, "Rime Coordinator")
}

func TestSessionRequired(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/ceremony/k_abc/join", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()

	res = postJSON(t, http.DefaultClient, ts.URL+"/v1/ceremony/k_abc/round/1", SubmitRoundRequest{Data: "x"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()

	// An empty user id never creates a session.
	res = postJSON(t, http.DefaultClient, ts.URL+"/v1/session", SessionRequest{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestKeygenOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := newSessionClient(t, ts, "alice")
	bob := newSessionClient(t, ts, "bob")

	res := postJSON(t, alice, ts.URL+"/v1/keygen", InitKeygenRequest{Threshold: 2, MaxParticipants: 2})
	require.Equal(t, http.StatusOK, res.StatusCode)
	created := decode[InitKeygenResponse](t, res)
	require.NotEmpty(t, created.OperationID)
	assert.Equal(t, "init", created.Status)

	ceremonyURL := ts.URL + "/v1/ceremony/" + created.OperationID

	res = postJSON(t, alice, ceremonyURL+"/join", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	join := decode[JoinResponse](t, res)
	assert.False(t, join.CanStart)

	res = postJSON(t, bob, ceremonyURL+"/join", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	join = decode[JoinResponse](t, res)
	assert.True(t, join.CanStart)
	assert.Equal(t, "keygen_round1", join.Status)

	for round := 1; round <= 2; round++ {
		res = postJSON(t, alice, fmt.Sprintf("%s/round/%d", ceremonyURL, round), SubmitRoundRequest{Data: fmt.Sprintf("a%d", round)})
		require.Equal(t, http.StatusOK, res.StatusCode)
		sub := decode[SubmitRoundResponse](t, res)
		assert.False(t, sub.RoundComplete)

		res = postJSON(t, bob, fmt.Sprintf("%s/round/%d", ceremonyURL, round), SubmitRoundRequest{Data: fmt.Sprintf("b%d", round)})
		require.Equal(t, http.StatusOK, res.StatusCode)
		sub = decode[SubmitRoundResponse](t, res)
		assert.True(t, sub.RoundComplete)
	}

	res, err := http.Get(ceremonyURL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	status := decode[StatusResponse](t, res)
	assert.Equal(t, "ready", status.Status)
	assert.NotEmpty(t, status.GroupPublicKey)
	assert.Equal(t, 2, status.ParticipantCount)
}

func TestSigningOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := newSessionClient(t, ts, "alice")
	bob := newSessionClient(t, ts, "bob")

	res := postJSON(t, alice, ts.URL+"/v1/signing", InitSigningRequest{
		Message:      base64.StdEncoding.EncodeToString([]byte("sign me")),
		Participants: []string{"alice", "bob"},
		Threshold:    2,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	created := decode[InitSigningResponse](t, res)
	assert.Equal(t, []string{"alice", "bob"}, created.RequiredParticipants)

	ceremonyURL := ts.URL + "/v1/ceremony/" + created.OperationID
	for _, c := range []*http.Client{alice, bob} {
		res = postJSON(t, c, ceremonyURL+"/join", nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()
	}
	for round := 1; round <= 2; round++ {
		for i, c := range []*http.Client{alice, bob} {
			res = postJSON(t, c, fmt.Sprintf("%s/round/%d", ceremonyURL, round), SubmitRoundRequest{Data: fmt.Sprintf("p%d-%d", i, round)})
			require.Equal(t, http.StatusOK, res.StatusCode)
			res.Body.Close()
		}
	}

	res, err := http.Get(ceremonyURL)
	require.NoError(t, err)
	status := decode[StatusResponse](t, res)
	assert.Equal(t, "complete", status.Status)
	assert.NotEmpty(t, status.FinalSignature)
}

// A stranger probing a real signing ceremony and anyone probing a made-up
// id must be unable to tell the two responses apart.
func TestUnknownAndUnauthorizedLookAlike(t *testing.T) {
	ts := newTestServer(t)
	alice := newSessionClient(t, ts, "alice")
	mallory := newSessionClient(t, ts, "mallory")

	res := postJSON(t, alice, ts.URL+"/v1/signing", InitSigningRequest{
		Message:      base64.StdEncoding.EncodeToString([]byte("m")),
		Participants: []string{"alice", "bob"},
		Threshold:    2,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	created := decode[InitSigningResponse](t, res)

	realJoin := postJSON(t, mallory, ts.URL+"/v1/ceremony/"+created.OperationID+"/join", nil)
	fakeJoin := postJSON(t, mallory, ts.URL+"/v1/ceremony/s_does_not_exist/join", nil)

	assert.Equal(t, http.StatusNotFound, realJoin.StatusCode)
	assert.Equal(t, http.StatusNotFound, fakeJoin.StatusCode)

	realBody, err := io.ReadAll(realJoin.Body)
	require.NoError(t, err)
	realJoin.Body.Close()
	fakeBody, err := io.ReadAll(fakeJoin.Body)
	require.NoError(t, err)
	fakeJoin.Body.Close()
	assert.Equal(t, realBody, fakeBody)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	alice := newSessionClient(t, ts, "alice")

	// Invalid parameters.
	res := postJSON(t, alice, ts.URL+"/v1/keygen", InitKeygenRequest{Threshold: 5, MaxParticipants: 2})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()

	// Conflict on re-init.
	res = postJSON(t, alice, ts.URL+"/v1/keygen", InitKeygenRequest{OperationID: "k_dup", Threshold: 1, MaxParticipants: 1})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	res = postJSON(t, alice, ts.URL+"/v1/keygen", InitKeygenRequest{OperationID: "k_dup", Threshold: 1, MaxParticipants: 1})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()

	// Gone after expiry.
	res = postJSON(t, alice, ts.URL+"/v1/ceremony/k_dup/expire", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	expired := decode[ExpireResponse](t, res)
	assert.True(t, expired.Expired)

	res = postJSON(t, alice, ts.URL+"/v1/ceremony/k_dup/join", nil)
	assert.Equal(t, http.StatusGone, res.StatusCode)
	res.Body.Close()

	// Wrong state names the refused transition with a conflict status.
	res = postJSON(t, alice, ts.URL+"/v1/keygen", InitKeygenRequest{OperationID: "k_ws", Threshold: 1, MaxParticipants: 1})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	res = postJSON(t, alice, ts.URL+"/v1/ceremony/k_ws/join", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	res = postJSON(t, alice, ts.URL+"/v1/ceremony/k_ws/round/2", SubmitRoundRequest{Data: "early"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()
}
