package lottery

import (
	"sort"
	"time"
)

// Identity names an account on the ledger. The empty identity is the null
// identity and can never own funds or operate a round.
type Identity string

// RoundID identifies a round. The first round has ID 1.
type RoundID uint64

// RequestID is the correlation id handed out by the oracle for a draw.
type RequestID string

// Call describes who invokes an operation and how much value is attached
// to it. The ledger moves Value into custody before the operation runs.
type Call struct {
	Caller Identity
	Value  uint64
}

// RoundParams are the parameters supplied to CreateRound.
type RoundParams struct {
	Operator          Identity
	TicketPrice       uint64
	MaxTickets        uint64
	CommissionPercent uint64
	// Expiration is in unix seconds.
	Expiration int64
}

// Participant covers the ticket indices [First, First+Count) bought by
// Buyer in one purchase.
type Participant struct {
	Buyer Identity
	First uint64
	Count uint64
}

// Round is the stored record of one lottery round. Rounds are never
// deleted.
type Round struct {
	ID                RoundID
	Creator           Identity
	Operator          Identity
	TicketPrice       uint64
	MaxTickets        uint64
	CommissionPercent uint64
	Expiration        int64
	TicketsSold       uint64
	Participants      []Participant
	DrawRequested     bool
	DrawRequestedAt   int64
	PendingRequestID  RequestID
	Winner            Identity
	WinningIndex      uint64
	Claimed           bool
}

// Round statuses returned by Status.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusDrawing = "drawing"
	StatusDrawn   = "drawn"
	StatusSettled = "settled"
)

const nullIdentity = Identity("")

// Remaining returns the number of tickets still for sale.
func (r *Round) Remaining() uint64 {
	return r.MaxTickets - r.TicketsSold
}

// Pool returns the value held in custody for the round. It is zero once
// the round has been claimed. Creation guarantees that the product fits.
func (r *Round) Pool() uint64 {
	if r.Claimed {
		return 0
	}
	return r.TicketPrice * r.TicketsSold
}

// Status derives the lifecycle stage of the round at the given time.
func (r *Round) Status(now time.Time) string {
	switch {
	case r.Claimed:
		return StatusSettled
	case r.Winner != nullIdentity:
		return StatusDrawn
	case r.DrawRequested:
		return StatusDrawing
	case now.Unix() <= r.Expiration:
		return StatusOpen
	default:
		return StatusClosed
	}
}

// Owner returns the participant owning the ticket at index idx.
func (r *Round) Owner(idx uint64) (Identity, bool) {
	if idx >= r.TicketsSold {
		return nullIdentity, false
	}
	i := sort.Search(len(r.Participants), func(i int) bool {
		p := r.Participants[i]
		return p.First+p.Count > idx
	})
	if i == len(r.Participants) {
		return nullIdentity, false
	}
	return r.Participants[i].Buyer, true
}

// TicketsOf returns how many tickets id holds in the round.
func (r *Round) TicketsOf(id Identity) uint64 {
	var n uint64
	for _, p := range r.Participants {
		if p.Buyer == id {
			n += p.Count
		}
	}
	return n
}

// Settlement is the result of a successful claim.
type Settlement struct {
	Round       RoundID
	Pool        uint64
	Operator    Identity
	Commission  uint64
	Winner      Identity
	WinnerShare uint64
}

// Event kinds emitted by the registry.
const (
	EventRoundCreated     = "RoundCreated"
	EventTicketsPurchased = "TicketsPurchased"
	EventDrawRequested    = "DrawRequested"
	EventWinnerSelected   = "WinnerSelected"
	EventRoundSettled     = "RoundSettled"
	EventDrawCancelled    = "DrawCancelled"
)

// Event is a structured notification for off-chain observers. Fields that
// do not apply to a kind are left zero.
type Event struct {
	Kind      string
	Round     RoundID
	Actor     Identity
	Count     uint64
	Amount    uint64
	Secondary uint64
	RequestID RequestID
}
