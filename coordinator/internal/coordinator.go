package internal

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Coordinator is the addressable facade in front of the state machine. It
// serializes all operations against a single ceremony: each operation id
// gets a refcounted handle holding a mutex, so there is structurally only
// one writer per ceremony while independent ceremonies run in parallel.
// A suspended operation (blocked on the store or engine) keeps exclusive
// access; later requests for the same ceremony queue behind it.
type Coordinator struct {
	machine *Machine
	log     zerolog.Logger

	mu      sync.Mutex
	handles map[string]*ceremonyHandle
}

type ceremonyHandle struct {
	mu   sync.Mutex
	refs int
}

func NewCoordinator(machine *Machine, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		machine: machine,
		log:     log.With().Str("component", "coordinator").Logger(),
		handles: map[string]*ceremonyHandle{},
	}
}

// acquire returns the ceremony's handle with its mutex held.
func (c *Coordinator) acquire(operationID string) *ceremonyHandle {
	c.mu.Lock()
	h, ok := c.handles[operationID]
	if !ok {
		h = &ceremonyHandle{}
		c.handles[operationID] = h
	}
	h.refs++
	c.mu.Unlock()

	h.mu.Lock()
	return h
}

// release unlocks the handle and drops it from the registry once nothing
// is in flight, which keeps the registry bounded by live ceremonies.
func (c *Coordinator) release(operationID string, h *ceremonyHandle) {
	h.mu.Unlock()
	c.mu.Lock()
	h.refs--
	if h.refs == 0 {
		delete(c.handles, operationID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) InitKeygen(ctx context.Context, p InitKeygenParams) (InitResult, error) {
	// The machine mints the id when absent. A freshly minted id is unknown
	// to every other caller, so only client-chosen ids need the lock.
	if p.OperationID == "" {
		return c.machine.InitKeygen(ctx, p)
	}
	h := c.acquire(p.OperationID)
	defer c.release(p.OperationID, h)
	return c.machine.InitKeygen(ctx, p)
}

func (c *Coordinator) InitSigning(ctx context.Context, p InitSigningParams) (InitResult, error) {
	if p.OperationID == "" {
		return c.machine.InitSigning(ctx, p)
	}
	h := c.acquire(p.OperationID)
	defer c.release(p.OperationID, h)
	return c.machine.InitSigning(ctx, p)
}

func (c *Coordinator) Join(ctx context.Context, operationID, userID string) (JoinResult, error) {
	h := c.acquire(operationID)
	defer c.release(operationID, h)

	res, err := c.machine.Join(ctx, operationID, userID)
	c.audit(ctx, operationID, userID, "join", err)
	return res, err
}

func (c *Coordinator) SubmitRound(ctx context.Context, operationID, userID string, round int, data string) (SubmitResult, error) {
	h := c.acquire(operationID)
	defer c.release(operationID, h)

	res, err := c.machine.SubmitRound(ctx, operationID, userID, round, data)
	c.audit(ctx, operationID, userID, "submit_round", err)
	return res, err
}

func (c *Coordinator) Status(ctx context.Context, operationID string) (StatusSnapshot, error) {
	h := c.acquire(operationID)
	defer c.release(operationID, h)
	return c.machine.Status(ctx, operationID)
}

func (c *Coordinator) Expire(ctx context.Context, operationID string) (bool, error) {
	h := c.acquire(operationID)
	defer c.release(operationID, h)
	return c.machine.Expire(ctx, operationID)
}

// audit records authorization outcomes. Unauthorized is folded into "not
// found" on the wire, so this log line is where the two stay
// distinguishable. The request id, when the context carries one, ties the
// line back to the HTTP request log.
func (c *Coordinator) audit(ctx context.Context, operationID, userID, op string, err error) {
	var ev *zerolog.Event
	var msg string
	switch CodeOf(err) {
	case CodeUnauthorized:
		ev, msg = c.log.Warn(), "unauthorized ceremony access"
	case CodeNotFound:
		ev, msg = c.log.Debug(), "unknown ceremony"
	default:
		return
	}
	if id := requestIDFrom(ctx); id != "" {
		ev = ev.Str("request_id", id)
	}
	ev.Str("operation_id", operationID).
		Str("user_id", userID).
		Str("op", op).
		Msg(msg)
}
