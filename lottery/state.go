package lottery

import "time"

// Oracle accepts draw requests. The returned correlation id must be carried
// by the matching fulfillment.
type Oracle interface {
	SubmitRequest(tag RoundID) (RequestID, error)
}

// State is the view of the host ledger an operation runs against. All
// writes done through a State belong to the current call and are discarded
// together if the operation returns an error.
type State interface {
	Oracle

	// Now is the ledger time of the current call.
	Now() time.Time
	// Round returns a copy of the stored round or an error wrapping
	// ErrNotFound.
	Round(id RoundID) (*Round, error)
	StoreRound(r *Round) error
	// NextRoundID allocates the next round identifier.
	NextRoundID() (RoundID, error)
	// RoundForRequest resolves a correlation id to the round it was issued
	// for, or returns an error wrapping ErrNotFound.
	RoundForRequest(req RequestID) (RoundID, error)
	Transfer(from, to Identity, amount uint64) error
	Emit(ev *Event) error
}
