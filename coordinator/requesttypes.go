package main

type ResponseMainPage struct {
	Message string `json:"message"`
}
type ResponseError struct {
	Error string `json:"error"`
}

type SessionRequest struct {
	UserID string `json:"user-id"`
}
type SessionResponse struct {
	UserID string `json:"user-id"`
}

type InitKeygenRequest struct {
	OperationID     string   `json:"operation-id,omitempty"`
	Threshold       int      `json:"t"`
	MaxParticipants int      `json:"n"`
	Participants    []string `json:"participants,omitempty"`
}
type InitKeygenResponse struct {
	OperationID string `json:"operation-id"`
	Status      string `json:"status"`
}

type InitSigningRequest struct {
	OperationID    string   `json:"operation-id,omitempty"`
	Message        string   `json:"message"`
	Participants   []string `json:"participants"`
	Threshold      int      `json:"t"`
	GroupPublicKey string   `json:"group-public-key,omitempty"`
}
type InitSigningResponse struct {
	OperationID          string   `json:"operation-id"`
	Status               string   `json:"status"`
	RequiredParticipants []string `json:"required-participants"`
}

type JoinResponse struct {
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant-count"`
	CanStart         bool   `json:"can-start"`
}

type SubmitRoundRequest struct {
	Data string `json:"data"`
}
type SubmitRoundResponse struct {
	Status         string `json:"status"`
	RoundOutput    string `json:"round-output"`
	RoundComplete  bool   `json:"round-complete"`
	GroupPublicKey string `json:"group-public-key,omitempty"`
	FinalSignature string `json:"final-signature,omitempty"`
}

type StatusResponse struct {
	OperationID      string `json:"operation-id"`
	Type             string `json:"type"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant-count"`
	Threshold        int    `json:"t"`
	MaxParticipants  int    `json:"n"`
	CreatedAt        string `json:"created-at"`
	LastActivity     string `json:"last-activity"`
	GroupPublicKey   string `json:"group-public-key,omitempty"`
	FinalSignature   string `json:"final-signature,omitempty"`
}

type ExpireResponse struct {
	Expired bool `json:"expired"`
}
