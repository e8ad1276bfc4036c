package lottery

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// memState is an in-memory State. exec gives it the all-or-nothing
// behaviour of the ledger by restoring a snapshot when an operation fails.
type memState struct {
	custodian Identity
	now       time.Time
	nextID    RoundID
	nextReq   int
	rounds    map[RoundID]*Round
	requests  map[RequestID]RoundID
	balances  map[Identity]uint64
	events    []Event
}

func newMemState(custodian Identity, now time.Time) *memState {
	return &memState{
		custodian: custodian,
		now:       now,
		rounds:    make(map[RoundID]*Round),
		requests:  make(map[RequestID]RoundID),
		balances:  make(map[Identity]uint64),
	}
}

func copyRound(r *Round) *Round {
	c := *r
	c.Participants = append([]Participant(nil), r.Participants...)
	return &c
}

func (s *memState) snapshot() *memState {
	c := *s
	c.rounds = make(map[RoundID]*Round, len(s.rounds))
	for k, v := range s.rounds {
		c.rounds[k] = copyRound(v)
	}
	c.requests = make(map[RequestID]RoundID, len(s.requests))
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.balances = make(map[Identity]uint64, len(s.balances))
	for k, v := range s.balances {
		c.balances[k] = v
	}
	c.events = append([]Event(nil), s.events...)
	return &c
}

func (s *memState) exec(call Call, fn func() error) error {
	snap := s.snapshot()
	err := s.Transfer(call.Caller, s.custodian, call.Value)
	if err == nil {
		err = fn()
	}
	if err != nil {
		*s = *snap
	}
	return err
}

func (s *memState) Now() time.Time { return s.now }

func (s *memState) Round(id RoundID) (*Round, error) {
	r, ok := s.rounds[id]
	if !ok {
		return nil, xerrors.Errorf("round %d: %w", id, ErrNotFound)
	}
	return copyRound(r), nil
}

func (s *memState) StoreRound(r *Round) error {
	s.rounds[r.ID] = copyRound(r)
	return nil
}

func (s *memState) NextRoundID() (RoundID, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *memState) SubmitRequest(tag RoundID) (RequestID, error) {
	s.nextReq++
	req := RequestID(fmt.Sprintf("req-%d", s.nextReq))
	s.requests[req] = tag
	return req, nil
}

func (s *memState) RoundForRequest(req RequestID) (RoundID, error) {
	id, ok := s.requests[req]
	if !ok {
		return 0, xerrors.Errorf("request %s: %w", req, ErrNotFound)
	}
	return id, nil
}

func (s *memState) Transfer(from, to Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if s.balances[from] < amount {
		return xerrors.Errorf("%s cannot pay %d", from, amount)
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}

func (s *memState) Emit(ev *Event) error {
	s.events = append(s.events, *ev)
	return nil
}
