package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rimeworks/rime/coordinator/internal"
)

func (s *server) indexPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ResponseMainPage{Message: "Rime Coordinator v0.1.0"})
}

// newSession stands in for the external identity issuer during development
// and tests: it binds a caller-chosen user id to the scs session. A real
// deployment terminates authentication in front of this endpoint.
func (s *server) newSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "user-id is required"})
		return
	}
	s.sessions.Put(r.Context(), "userId", req.UserID)
	writeJSON(w, http.StatusOK, SessionResponse{UserID: req.UserID})
}

func (s *server) initKeygen(w http.ResponseWriter, r *http.Request) {
	var req InitKeygenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "malformed request body"})
		return
	}
	res, err := s.coord.InitKeygen(r.Context(), internal.InitKeygenParams{
		OperationID:         req.OperationID,
		Threshold:           req.Threshold,
		MaxParticipants:     req.MaxParticipants,
		AllowedParticipants: req.Participants,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InitKeygenResponse{
		OperationID: res.OperationID,
		Status:      string(res.Status),
	})
}

func (s *server) initSigning(w http.ResponseWriter, r *http.Request) {
	var req InitSigningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "malformed request body"})
		return
	}
	message, err := base64.StdEncoding.DecodeString(req.Message)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "message must be base64"})
		return
	}
	res, err := s.coord.InitSigning(r.Context(), internal.InitSigningParams{
		OperationID:    req.OperationID,
		Message:        message,
		Participants:   req.Participants,
		Threshold:      req.Threshold,
		GroupPublicKey: req.GroupPublicKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InitSigningResponse{
		OperationID:          res.OperationID,
		Status:               string(res.Status),
		RequiredParticipants: res.RequiredParticipants,
	})
}

func (s *server) joinCeremony(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	res, err := s.coord.Join(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{
		Status:           string(res.Status),
		ParticipantCount: res.ParticipantCount,
		CanStart:         res.CanStart,
	})
}

func (s *server) submitRound(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	round, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "round must be a number"})
		return
	}
	var req SubmitRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResponseError{Error: "malformed request body"})
		return
	}
	res, err := s.coord.SubmitRound(r.Context(), mux.Vars(r)["id"], userID, round, req.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitRoundResponse{
		Status:         string(res.Status),
		RoundOutput:    res.Output,
		RoundComplete:  res.RoundComplete,
		GroupPublicKey: res.GroupPublicKey,
		FinalSignature: res.FinalSignature,
	})
}

func (s *server) ceremonyStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		OperationID:      snap.OperationID,
		Type:             string(snap.Type),
		Status:           string(snap.Status),
		ParticipantCount: snap.ParticipantCount,
		Threshold:        snap.Threshold,
		MaxParticipants:  snap.MaxParticipants,
		CreatedAt:        snap.CreatedAt.Format(time.RFC3339),
		LastActivity:     snap.LastActivity.Format(time.RFC3339),
		GroupPublicKey:   snap.GroupPublicKey,
		FinalSignature:   snap.FinalSignature,
	})
}

func (s *server) expireCeremony(w http.ResponseWriter, r *http.Request) {
	expired, err := s.coord.Expire(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{Expired: expired})
}

// userID pulls the authenticated identity off the session. The coordinator
// trusts it verbatim; establishing it is the identity boundary's job.
func (s *server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := s.sessions.GetString(r.Context(), "userId")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ResponseError{Error: "no session"})
		return "", false
	}
	return userID, true
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := internal.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case internal.CodeInvalidParameters:
		status = http.StatusBadRequest
	case internal.CodeNotFound, internal.CodeUnauthorized:
		// Identical status and body so responses never confirm which
		// ceremonies exist; the coordinator's audit log keeps them apart.
		status = http.StatusNotFound
	case internal.CodeAlreadyInitialized, internal.CodeWrongState, internal.CodeCeremonyFull:
		status = http.StatusConflict
	case internal.CodeTimeout:
		status = http.StatusGone
	case internal.CodeEngineFailure:
		status = http.StatusInternalServerError
	}
	if code == "" {
		s.log.Error().Str("path", r.URL.Path).Err(err).Msg("request failed")
	}
	writeJSON(w, status, ResponseError{Error: internal.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
