package lottery

import (
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Config holds the identities the registry trusts.
type Config struct {
	// Custodian is the account holding the pooled funds of every round.
	Custodian Identity
	// Oracle is the only identity allowed to fulfill draws.
	Oracle Identity
	// DrawTimeout is how long after a draw request the operator has to wait
	// before cancelling it. Zero disables cancellation.
	DrawTimeout time.Duration
}

// DefaultConfig returns the configuration used by the service and the
// command-line tool unless told otherwise.
func DefaultConfig() Config {
	return Config{
		Custodian:   "lottery:custody",
		Oracle:      "lottery:oracle",
		DrawTimeout: 24 * time.Hour,
	}
}

// Registry implements the round state machine. It keeps no state of its
// own: everything lives in the State passed to each operation.
type Registry struct {
	cfg Config
}

// NewRegistry returns a registry using cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// reserved reports whether id is one of the accounts run by the registry
// itself. Paying such an account from custody leaves the pool unbacked.
func (r *Registry) reserved(id Identity) bool {
	return id == r.cfg.Custodian || id == r.cfg.Oracle
}

// CreateRound validates p and stores a new round.
func (r *Registry) CreateRound(st State, call Call, p RoundParams) (RoundID, error) {
	if call.Value != 0 {
		return 0, xerrors.Errorf("create round does not accept value: %w", ErrValueMismatch)
	}
	if p.Operator == nullIdentity {
		return 0, xerrors.Errorf("null operator: %w", ErrInvalidParameters)
	}
	if r.reserved(p.Operator) {
		return 0, xerrors.Errorf("%s cannot operate a round: %w", p.Operator, ErrInvalidParameters)
	}
	if p.TicketPrice == 0 {
		return 0, xerrors.Errorf("ticket price must be positive: %w", ErrInvalidParameters)
	}
	if p.MaxTickets == 0 {
		return 0, xerrors.Errorf("ticket cap must be positive: %w", ErrInvalidParameters)
	}
	if p.CommissionPercent > 100 {
		return 0, xerrors.Errorf("commission %d%% out of range: %w", p.CommissionPercent, ErrInvalidParameters)
	}
	if _, ok := cost(p.TicketPrice, p.MaxTickets); !ok {
		return 0, xerrors.Errorf("pool of %d tickets at %d overflows: %w", p.MaxTickets, p.TicketPrice, ErrInvalidParameters)
	}
	if p.Expiration <= st.Now().Unix() {
		return 0, xerrors.Errorf("expiration %d is not in the future: %w", p.Expiration, ErrInvalidParameters)
	}
	id, err := st.NextRoundID()
	if err != nil {
		return 0, xerrors.Errorf("allocating round id: %v", err)
	}
	rnd := &Round{
		ID:                id,
		Creator:           call.Caller,
		Operator:          p.Operator,
		TicketPrice:       p.TicketPrice,
		MaxTickets:        p.MaxTickets,
		CommissionPercent: p.CommissionPercent,
		Expiration:        p.Expiration,
	}
	if err := st.StoreRound(rnd); err != nil {
		return 0, err
	}
	log.Lvlf2("round %d created by %s for operator %s", id, call.Caller, p.Operator)
	return id, st.Emit(&Event{
		Kind:   EventRoundCreated,
		Round:  id,
		Actor:  p.Operator,
		Count:  p.MaxTickets,
		Amount: p.TicketPrice,
	})
}

// BuyTickets grants count tickets of round id to the caller. The attached
// value must equal the price of the tickets exactly.
func (r *Registry) BuyTickets(st State, call Call, id RoundID, count uint64) error {
	rnd, err := st.Round(id)
	if err != nil {
		return err
	}
	if st.Now().Unix() > rnd.Expiration {
		return xerrors.Errorf("round %d expired at %d: %w", id, rnd.Expiration, ErrWindowClosed)
	}
	if count == 0 {
		return xerrors.Errorf("zero tickets: %w", ErrValueMismatch)
	}
	if call.Caller == nullIdentity {
		return xerrors.Errorf("null buyer: %w", ErrUnauthorized)
	}
	if r.reserved(call.Caller) {
		return xerrors.Errorf("%s cannot buy tickets: %w", call.Caller, ErrUnauthorized)
	}
	price, ok := cost(rnd.TicketPrice, count)
	if !ok || call.Value != price {
		return xerrors.Errorf("got %d for %d tickets at %d: %w", call.Value, count, rnd.TicketPrice, ErrValueMismatch)
	}
	if count > rnd.Remaining() {
		return xerrors.Errorf("%d tickets requested, %d left: %w", count, rnd.Remaining(), ErrCapacityExceeded)
	}
	rnd.Participants = append(rnd.Participants, Participant{
		Buyer: call.Caller,
		First: rnd.TicketsSold,
		Count: count,
	})
	rnd.TicketsSold += count
	if err := st.StoreRound(rnd); err != nil {
		return err
	}
	log.Lvlf3("round %d: %s bought %d tickets (%d/%d)", id, call.Caller, count, rnd.TicketsSold, rnd.MaxTickets)
	return st.Emit(&Event{
		Kind:   EventTicketsPurchased,
		Round:  id,
		Actor:  call.Caller,
		Count:  count,
		Amount: call.Value,
	})
}

// RequestDraw asks the oracle for randomness once the round has expired.
// The winner is only selected when the oracle calls FulfillDraw.
func (r *Registry) RequestDraw(st State, call Call, id RoundID) (RequestID, error) {
	if call.Value != 0 {
		return "", xerrors.Errorf("request draw does not accept value: %w", ErrValueMismatch)
	}
	rnd, err := st.Round(id)
	if err != nil {
		return "", err
	}
	if call.Caller != rnd.Operator {
		return "", xerrors.Errorf("%s is not the operator of round %d: %w", call.Caller, id, ErrUnauthorized)
	}
	now := st.Now().Unix()
	if now <= rnd.Expiration {
		return "", xerrors.Errorf("round %d expires at %d: %w", id, rnd.Expiration, ErrWindowOpen)
	}
	if rnd.DrawRequested {
		return "", xerrors.Errorf("draw of round %d already requested: %w", id, ErrAlreadyDone)
	}
	if rnd.TicketsSold == 0 {
		return "", xerrors.Errorf("round %d: %w", id, ErrNoSales)
	}
	req, err := st.SubmitRequest(id)
	if err != nil {
		return "", xerrors.Errorf("submitting randomness request: %v", err)
	}
	rnd.DrawRequested = true
	rnd.DrawRequestedAt = now
	rnd.PendingRequestID = req
	if err := st.StoreRound(rnd); err != nil {
		return "", err
	}
	log.Lvlf2("round %d: draw requested (%s)", id, req)
	return req, st.Emit(&Event{
		Kind:      EventDrawRequested,
		Round:     id,
		Actor:     call.Caller,
		RequestID: req,
	})
}

// FulfillDraw is the oracle callback. It selects the owner of ticket
// random mod TicketsSold as the winner of the round waiting for req.
func (r *Registry) FulfillDraw(st State, call Call, req RequestID, random uint64) error {
	if call.Value != 0 {
		return xerrors.Errorf("fulfill draw does not accept value: %w", ErrValueMismatch)
	}
	if call.Caller != r.cfg.Oracle {
		return xerrors.Errorf("%s is not the oracle: %w", call.Caller, ErrUnauthorized)
	}
	id, err := st.RoundForRequest(req)
	if err != nil {
		return err
	}
	rnd, err := st.Round(id)
	if err != nil {
		return err
	}
	if rnd.Winner != nullIdentity {
		return xerrors.Errorf("round %d already has a winner: %w", id, ErrAlreadyDone)
	}
	if !rnd.DrawRequested || rnd.PendingRequestID != req {
		return xerrors.Errorf("request %s is stale for round %d: %w", req, id, ErrNotFound)
	}
	if rnd.TicketsSold == 0 {
		return xerrors.Errorf("round %d: %w", id, ErrNoSales)
	}
	idx := random % rnd.TicketsSold
	winner, ok := rnd.Owner(idx)
	if !ok {
		return xerrors.Errorf("no owner for ticket %d of round %d", idx, id)
	}
	rnd.Winner = winner
	rnd.WinningIndex = idx
	if err := st.StoreRound(rnd); err != nil {
		return err
	}
	log.Lvlf2("round %d: ticket %d wins, winner %s", id, idx, winner)
	return st.Emit(&Event{
		Kind:      EventWinnerSelected,
		Round:     id,
		Actor:     winner,
		Count:     idx,
		RequestID: req,
	})
}

// CancelDraw lets the operator drop a draw request the oracle never
// answered, so that a new one can be issued.
func (r *Registry) CancelDraw(st State, call Call, id RoundID) error {
	if call.Value != 0 {
		return xerrors.Errorf("cancel draw does not accept value: %w", ErrValueMismatch)
	}
	rnd, err := st.Round(id)
	if err != nil {
		return err
	}
	if call.Caller != rnd.Operator {
		return xerrors.Errorf("%s is not the operator of round %d: %w", call.Caller, id, ErrUnauthorized)
	}
	if r.cfg.DrawTimeout <= 0 {
		return xerrors.Errorf("draw cancellation is disabled: %w", ErrUnauthorized)
	}
	if !rnd.DrawRequested {
		return xerrors.Errorf("no draw requested for round %d: %w", id, ErrWindowOpen)
	}
	if rnd.Winner != nullIdentity {
		return xerrors.Errorf("round %d already has a winner: %w", id, ErrAlreadyDone)
	}
	deadline := time.Unix(rnd.DrawRequestedAt, 0).Add(r.cfg.DrawTimeout)
	if st.Now().Before(deadline) {
		return xerrors.Errorf("round %d can be cancelled after %s: %w", id, deadline.UTC(), ErrDrawPending)
	}
	stale := rnd.PendingRequestID
	rnd.DrawRequested = false
	rnd.DrawRequestedAt = 0
	rnd.PendingRequestID = ""
	if err := st.StoreRound(rnd); err != nil {
		return err
	}
	log.Lvlf2("round %d: draw request %s cancelled", id, stale)
	return st.Emit(&Event{
		Kind:      EventDrawCancelled,
		Round:     id,
		Actor:     call.Caller,
		RequestID: stale,
	})
}

// ClaimLottery pays the commission to the operator and the rest of the
// pool to the winner. Only the winner can claim, and only once.
func (r *Registry) ClaimLottery(st State, call Call, id RoundID) (*Settlement, error) {
	if call.Value != 0 {
		return nil, xerrors.Errorf("claim does not accept value: %w", ErrValueMismatch)
	}
	rnd, err := st.Round(id)
	if err != nil {
		return nil, err
	}
	if rnd.Winner == nullIdentity {
		return nil, xerrors.Errorf("round %d: %w", id, ErrNoWinner)
	}
	if rnd.Claimed {
		return nil, xerrors.Errorf("round %d already claimed: %w", id, ErrAlreadyDone)
	}
	if call.Caller != rnd.Winner {
		return nil, xerrors.Errorf("%s did not win round %d: %w", call.Caller, id, ErrUnauthorized)
	}
	pool := rnd.Pool()
	commission, share := Split(pool, rnd.CommissionPercent)
	if commission > 0 {
		if err := st.Transfer(r.cfg.Custodian, rnd.Operator, commission); err != nil {
			return nil, xerrors.Errorf("paying commission: %v", err)
		}
	}
	if share > 0 {
		if err := st.Transfer(r.cfg.Custodian, rnd.Winner, share); err != nil {
			return nil, xerrors.Errorf("paying winner: %v", err)
		}
	}
	rnd.Claimed = true
	if err := st.StoreRound(rnd); err != nil {
		return nil, err
	}
	log.Lvlf2("round %d settled: %d to operator, %d to winner", id, commission, share)
	s := &Settlement{
		Round:       id,
		Pool:        pool,
		Operator:    rnd.Operator,
		Commission:  commission,
		Winner:      rnd.Winner,
		WinnerShare: share,
	}
	return s, st.Emit(&Event{
		Kind:      EventRoundSettled,
		Round:     id,
		Actor:     rnd.Winner,
		Amount:    share,
		Secondary: commission,
	})
}

// GetRound returns the stored record of round id.
func (r *Registry) GetRound(st State, id RoundID) (*Round, error) {
	return st.Round(id)
}

// GetRemainingTickets returns how many tickets of round id are unsold.
func (r *Registry) GetRemainingTickets(st State, id RoundID) (uint64, error) {
	rnd, err := st.Round(id)
	if err != nil {
		return 0, err
	}
	return rnd.Remaining(), nil
}

// GetWinner returns the winner of round id, or the null identity while
// the draw is not fulfilled.
func (r *Registry) GetWinner(st State, id RoundID) (Identity, error) {
	rnd, err := st.Round(id)
	if err != nil {
		return nullIdentity, err
	}
	return rnd.Winner, nil
}
