package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Machine owns the ceremony lifecycle: initialization, participant
// admission, round-data intake, completion detection and status
// transitions. It never interprets round payloads; the Engine does the
// math. Machine methods are not safe for concurrent use against the same
// operation id — the Coordinator facade serializes them.
type Machine struct {
	store  Store
	engine Engine
	log    zerolog.Logger
	now    func() time.Time
}

func NewMachine(store Store, engine Engine, log zerolog.Logger) *Machine {
	return &Machine{
		store:  store,
		engine: engine,
		log:    log.With().Str("component", "ceremony_machine").Logger(),
		now:    time.Now,
	}
}

type InitKeygenParams struct {
	OperationID     string
	Threshold       int
	MaxParticipants int
	// AllowedParticipants optionally restricts open enrollment.
	AllowedParticipants []string
}

type InitSigningParams struct {
	OperationID  string
	Message      []byte
	Participants []string
	Threshold    int
	// GroupPublicKey optionally lets the engine verify the assembled
	// signature (hex encoded).
	GroupPublicKey string
}

type InitResult struct {
	OperationID          string
	Status               Status
	RequiredParticipants []string
}

type JoinResult struct {
	Status           Status
	ParticipantCount int
	CanStart         bool
}

type SubmitResult struct {
	Status         Status
	Output         string
	RoundComplete  bool
	GroupPublicKey string
	FinalSignature string
}

type StatusSnapshot struct {
	OperationID      string
	Type             CeremonyType
	Status           Status
	ParticipantCount int
	Threshold        int
	MaxParticipants  int
	CreatedAt        time.Time
	LastActivity     time.Time
	GroupPublicKey   string
	FinalSignature   string
	FailureReason    Code
}

// InitKeygen creates a keygen ceremony. A second init on the same
// operation id is rejected and leaves the first ceremony untouched.
func (m *Machine) InitKeygen(ctx context.Context, p InitKeygenParams) (InitResult, error) {
	if p.MaxParticipants < 1 {
		return InitResult{}, errInvalidParameters("max participants must be at least 1, got %d", p.MaxParticipants)
	}
	if p.Threshold < 1 || p.Threshold > p.MaxParticipants {
		return InitResult{}, errInvalidParameters("threshold must be between 1 and %d, got %d", p.MaxParticipants, p.Threshold)
	}
	if len(p.AllowedParticipants) > 0 && len(p.AllowedParticipants) < p.Threshold {
		return InitResult{}, errInvalidParameters("allowlist has %d participants, fewer than threshold %d", len(p.AllowedParticipants), p.Threshold)
	}

	cfg := CeremonyConfig{
		Threshold:            p.Threshold,
		MaxParticipants:      p.MaxParticipants,
		RequiredParticipants: p.AllowedParticipants,
	}
	return m.init(ctx, p.OperationID, TypeKeygen, cfg)
}

// InitSigning creates a signing ceremony with a closed participant set.
func (m *Machine) InitSigning(ctx context.Context, p InitSigningParams) (InitResult, error) {
	if len(p.Participants) == 0 {
		return InitResult{}, errInvalidParameters("signing requires a declared participant set")
	}
	if hasDuplicates(p.Participants) {
		return InitResult{}, errInvalidParameters("participant set contains duplicates")
	}
	if p.Threshold < 1 || p.Threshold > len(p.Participants) {
		return InitResult{}, errInvalidParameters("threshold must be between 1 and %d, got %d", len(p.Participants), p.Threshold)
	}
	if len(p.Message) == 0 {
		return InitResult{}, errInvalidParameters("signing requires a message")
	}

	cfg := CeremonyConfig{
		Threshold:            p.Threshold,
		MaxParticipants:      len(p.Participants),
		RequiredParticipants: p.Participants,
		Message:              p.Message,
		GroupPublicKey:       p.GroupPublicKey,
	}
	return m.init(ctx, p.OperationID, TypeSigning, cfg)
}

func (m *Machine) init(ctx context.Context, operationID string, t CeremonyType, cfg CeremonyConfig) (InitResult, error) {
	if operationID == "" {
		uid, err := NewOperationID(t)
		if err != nil {
			return InitResult{}, err
		}
		operationID = uid
	}

	existing, err := m.store.Get(ctx, operationID, []string{keyMeta})
	if err != nil {
		return InitResult{}, err
	}
	if _, ok := existing[keyMeta]; ok {
		return InitResult{}, errAlreadyInitialized()
	}

	state, err := m.engine.CreateState(ctx, EngineParams{
		Type:            t,
		Threshold:       cfg.Threshold,
		MaxParticipants: cfg.MaxParticipants,
		Participants:    cfg.RequiredParticipants,
		Message:         cfg.Message,
		GroupPublicKey:  cfg.GroupPublicKey,
	})
	if err != nil {
		return InitResult{}, errEngineFailure(err)
	}

	now := m.now()
	meta := Meta{
		OperationID:  operationID,
		Type:         t,
		Status:       StatusInit,
		Participants: []string{},
		CreatedAt:    now,
		LastActivity: now,
	}

	entries := map[string][]byte{}
	if err := putJSON(entries, keyMeta, &meta); err != nil {
		return InitResult{}, err
	}
	if err := putJSON(entries, keyConfig, &cfg); err != nil {
		return InitResult{}, err
	}
	entries[keyEngineState] = state

	if err := m.store.PutAtomic(ctx, operationID, entries); err != nil {
		return InitResult{}, err
	}

	m.log.Info().
		Str("operation_id", operationID).
		Str("type", string(t)).
		Int("threshold", cfg.Threshold).
		Int("max_participants", cfg.MaxParticipants).
		Msg("ceremony created")

	return InitResult{
		OperationID:          operationID,
		Status:               StatusInit,
		RequiredParticipants: cfg.RequiredParticipants,
	}, nil
}

// Join admits a participant. Idempotent: an already-admitted participant
// gets the current status back with no side effects.
func (m *Machine) Join(ctx context.Context, operationID, userID string) (JoinResult, error) {
	meta, cfg, err := m.loadCeremony(ctx, operationID)
	if err != nil {
		return JoinResult{}, err
	}
	if meta.Status == StatusFailed {
		return JoinResult{}, failedCeremony(meta.FailureReason)
	}

	if meta.admitted(userID) {
		return JoinResult{
			Status:           meta.Status,
			ParticipantCount: len(meta.Participants),
			CanStart:         len(meta.Participants) >= cfg.Threshold,
		}, nil
	}

	if !cfg.allowed(userID) {
		return JoinResult{}, errUnauthorized(userID)
	}
	if meta.Status.Terminal() {
		return JoinResult{}, errCeremonyClosed(meta.Status)
	}
	if len(meta.Participants) >= cfg.MaxParticipants {
		return JoinResult{}, errCeremonyFull(cfg.MaxParticipants)
	}

	now := m.now()
	meta.Participants = append(meta.Participants, userID)
	meta.LastActivity = now
	if meta.Status == StatusInit && len(meta.Participants) >= cfg.Threshold {
		meta.Status = firstRoundStatus(meta.Type)
	}

	rec := ParticipantRecord{
		UserID:       userID,
		JoinedAt:     now,
		LastActivity: now,
	}

	entries := map[string][]byte{}
	if err := putJSON(entries, keyMeta, meta); err != nil {
		return JoinResult{}, err
	}
	if err := putJSON(entries, participantKey(userID), &rec); err != nil {
		return JoinResult{}, err
	}
	if err := m.store.PutAtomic(ctx, operationID, entries); err != nil {
		return JoinResult{}, err
	}

	m.log.Info().
		Str("operation_id", operationID).
		Str("user_id", userID).
		Int("participants", len(meta.Participants)).
		Str("status", string(meta.Status)).
		Msg("participant joined")

	return JoinResult{
		Status:           meta.Status,
		ParticipantCount: len(meta.Participants),
		CanStart:         len(meta.Participants) >= cfg.Threshold,
	}, nil
}

// SubmitRound routes one participant's round package through the engine and
// evaluates round completion. Resubmissions return the originally stored
// output without touching the engine or the threshold count.
func (m *Machine) SubmitRound(ctx context.Context, operationID, userID string, round int, data string) (SubmitResult, error) {
	if round != 1 && round != 2 {
		return SubmitResult{}, errInvalidParameters("round must be 1 or 2, got %d", round)
	}

	meta, cfg, err := m.loadCeremony(ctx, operationID)
	if err != nil {
		return SubmitResult{}, err
	}
	if meta.Status == StatusFailed {
		return SubmitResult{}, failedCeremony(meta.FailureReason)
	}

	keys := []string{keyEngineState, workingSetKey(round)}
	for _, p := range meta.Participants {
		keys = append(keys, participantKey(p))
	}
	values, err := m.store.Get(ctx, operationID, keys)
	if err != nil {
		return SubmitResult{}, err
	}

	records := make(map[string]*ParticipantRecord, len(meta.Participants))
	for _, p := range meta.Participants {
		raw, ok := values[participantKey(p)]
		if !ok {
			return SubmitResult{}, fmt.Errorf("missing participant record for %s", p)
		}
		var rec ParticipantRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return SubmitResult{}, err
		}
		records[p] = &rec
	}

	rec, ok := records[userID]
	if !ok {
		return SubmitResult{}, errNotFound()
	}

	// Idempotency: a repeat of an already-processed submission replays the
	// stored output and performs no engine call and no re-count.
	if entry := rec.round(round); entry != nil {
		expected, rerr := roundStatus(meta.Type, round)
		if rerr != nil {
			return SubmitResult{}, errInvalidParameters("%s", rerr.Error())
		}
		return SubmitResult{
			Status:         meta.Status,
			Output:         entry.Output,
			RoundComplete:  meta.Status != expected,
			GroupPublicKey: meta.GroupPublicKey,
			FinalSignature: meta.FinalSignature,
		}, nil
	}

	expected, rerr := roundStatus(meta.Type, round)
	if rerr != nil {
		return SubmitResult{}, errInvalidParameters("%s", rerr.Error())
	}
	if meta.Status != expected {
		return SubmitResult{}, errWrongState(expected, meta.Status)
	}

	engineState := values[keyEngineState]
	advanced, err := m.engine.Advance(ctx, engineState, userID, round, data)
	if err != nil {
		// An engine failure is fatal: no automatic retry of a failed
		// cryptographic round.
		if ferr := m.markFailed(ctx, meta, CodeEngineFailure); ferr != nil {
			return SubmitResult{}, ferr
		}
		m.log.Error().
			Str("operation_id", operationID).
			Str("user_id", userID).
			Int("round", round).
			Err(err).
			Msg("protocol engine failure, ceremony failed")
		return SubmitResult{}, errEngineFailure(err)
	}

	now := m.now()
	rec.setRound(round, &RoundEntry{
		Data:        data,
		Output:      advanced.Output,
		SubmittedAt: now,
	})
	rec.LastActivity = now
	meta.LastActivity = now

	// Count distinct participants with this round's data set.
	submitted := 0
	for _, r := range records {
		if r.round(round) != nil {
			submitted++
		}
	}

	result := SubmitResult{Output: advanced.Output}
	if submitted >= cfg.Threshold {
		meta.Status = nextStatus(meta.Status)
		result.RoundComplete = true
		switch meta.Status {
		case StatusReady:
			meta.GroupPublicKey = advanced.Artifact
		case StatusComplete:
			meta.FinalSignature = advanced.Artifact
		}
	}
	result.Status = meta.Status
	result.GroupPublicKey = meta.GroupPublicKey
	result.FinalSignature = meta.FinalSignature

	entries := map[string][]byte{}
	if err := putJSON(entries, keyMeta, meta); err != nil {
		return SubmitResult{}, err
	}
	if err := putJSON(entries, participantKey(userID), rec); err != nil {
		return SubmitResult{}, err
	}
	entries[keyEngineState] = advanced.State

	ws := WorkingSet{Round: round, Contributions: map[string]string{}}
	if raw, ok := values[workingSetKey(round)]; ok {
		if err := json.Unmarshal(raw, &ws); err != nil {
			return SubmitResult{}, err
		}
	}
	ws.Contributions[userID] = data
	if err := putJSON(entries, workingSetKey(round), &ws); err != nil {
		return SubmitResult{}, err
	}

	if err := m.store.PutAtomic(ctx, operationID, entries); err != nil {
		return SubmitResult{}, err
	}

	m.log.Info().
		Str("operation_id", operationID).
		Str("user_id", userID).
		Int("round", round).
		Int("submitted", submitted).
		Bool("round_complete", result.RoundComplete).
		Str("status", string(meta.Status)).
		Msg("round package accepted")

	return result, nil
}

// Status is a read-only snapshot; it never mutates.
func (m *Machine) Status(ctx context.Context, operationID string) (StatusSnapshot, error) {
	meta, cfg, err := m.loadCeremony(ctx, operationID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		OperationID:      meta.OperationID,
		Type:             meta.Type,
		Status:           meta.Status,
		ParticipantCount: len(meta.Participants),
		Threshold:        cfg.Threshold,
		MaxParticipants:  cfg.MaxParticipants,
		CreatedAt:        meta.CreatedAt,
		LastActivity:     meta.LastActivity,
		GroupPublicKey:   meta.GroupPublicKey,
		FinalSignature:   meta.FinalSignature,
		FailureReason:    meta.FailureReason,
	}, nil
}

// Expire fails a non-terminal ceremony with reason Timeout. It is a no-op
// on terminal ceremonies, which keeps timeout policy external while the
// terminal-state invariant stays enforced here.
func (m *Machine) Expire(ctx context.Context, operationID string) (bool, error) {
	meta, _, err := m.loadCeremony(ctx, operationID)
	if err != nil {
		return false, err
	}
	if meta.Status.Terminal() {
		return false, nil
	}
	if err := m.markFailed(ctx, meta, CodeTimeout); err != nil {
		return false, err
	}
	m.log.Warn().
		Str("operation_id", operationID).
		Str("type", string(meta.Type)).
		Msg("ceremony expired")
	return true, nil
}

func (m *Machine) markFailed(ctx context.Context, meta *Meta, reason Code) error {
	meta.Status = StatusFailed
	meta.FailureReason = reason
	meta.LastActivity = m.now()
	entries := map[string][]byte{}
	if err := putJSON(entries, keyMeta, meta); err != nil {
		return err
	}
	return m.store.PutAtomic(ctx, meta.OperationID, entries)
}

func (m *Machine) loadCeremony(ctx context.Context, operationID string) (*Meta, *CeremonyConfig, error) {
	values, err := m.store.Get(ctx, operationID, []string{keyMeta, keyConfig})
	if err != nil {
		return nil, nil, err
	}
	rawMeta, ok := values[keyMeta]
	if !ok {
		return nil, nil, errNotFound()
	}
	var meta Meta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, nil, err
	}
	var cfg CeremonyConfig
	if err := json.Unmarshal(values[keyConfig], &cfg); err != nil {
		return nil, nil, err
	}
	return &meta, &cfg, nil
}

func putJSON(entries map[string][]byte, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	entries[key] = raw
	return nil
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
