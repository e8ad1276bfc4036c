package ledger

import (
	"time"

	"github.com/dedis/lottery/lottery"
	"golang.org/x/xerrors"
)

var (
	// ErrInsufficientFunds is returned when an account cannot cover a debit.
	ErrInsufficientFunds = xerrors.New("insufficient funds")
	// ErrBalanceOverflow is returned when a credit would overflow an account.
	ErrBalanceOverflow = xerrors.New("balance overflow")
	// ErrBadCounter is returned when a signer counter is not the next one.
	ErrBadCounter = xerrors.New("wrong signer counter")
	// ErrUnknownRequest is returned for draw requests the ledger never issued.
	ErrUnknownRequest = xerrors.New("unknown draw request")
)

var (
	bucketMeta     = []byte("meta")
	bucketRounds   = []byte("rounds")
	bucketRequests = []byte("requests")
	bucketAccounts = []byte("accounts")
	bucketCounters = []byte("counters")
	bucketEvents   = []byte("events")

	keyLastTime = []byte("last_time")
)

// Status of a draw request.
const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
	RequestRejected  = "rejected"
)

// Config configures a ledger.
type Config struct {
	// Root is the bucket holding all ledger data.
	Root []byte
	// Custodian receives the value attached to every call.
	Custodian lottery.Identity
	Clock     Clock
}

// DrawRequest is the record kept for every randomness request. It doubles
// as an outbox: the oracle dispatcher delivers every pending request.
type DrawRequest struct {
	ID          lottery.RequestID
	Round       lottery.RoundID
	Status      string
	Seq         uint64
	SubmittedAt int64
	// Proof is the encoded randomness delivered for the request.
	Proof []byte
}

// EventRecord is an event as persisted by the ledger.
type EventRecord struct {
	Index uint64
	Seq   uint64
	Time  int64
	Event lottery.Event
}

// Receipt describes a committed call.
type Receipt struct {
	Seq    uint64
	Time   time.Time
	Events []EventRecord
}
