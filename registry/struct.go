package registry

import (
	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/utils"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

func init() {
	network.RegisterMessages(&storage{},
		&ExecuteRequest{}, &ExecuteReply{},
		&FulfillDrawRequest{}, &FulfillDrawReply{},
		&DispatchRequest{}, &DispatchReply{},
		&GetRoundRequest{}, &GetRoundReply{},
		&GetRemainingTicketsRequest{}, &GetRemainingTicketsReply{},
		&GetWinnerRequest{}, &GetWinnerReply{},
		&BalanceRequest{}, &BalanceReply{},
		&CounterRequest{}, &CounterReply{},
		&EventsRequest{}, &EventsReply{},
		&BeaconRequest{}, &BeaconReply{})
}

// Commands accepted in an Instruction.
const (
	CmdCreateRound = "create_round"
	CmdBuyTickets  = "buy_tickets"
	CmdRequestDraw = "request_draw"
	CmdCancelDraw  = "cancel_draw"
	CmdClaim       = "claim_lottery"
	CmdMint        = "mint"
)

// Instruction is one signed call to the registry. Value is attached to the
// call and moved into custody before the command runs.
type Instruction struct {
	Command string
	Round   lottery.RoundID
	Count   uint64
	Value   uint64
	Params  lottery.RoundParams
	// Counter must be one more than the last counter used by the signer.
	Counter uint64
}

// Hash returns the digest signed by the sender of the instruction.
func (inst *Instruction) Hash() ([]byte, error) {
	digest, err := utils.HashProtobuf(inst.Command, inst)
	if err != nil {
		return nil, xerrors.Errorf("couldn't hash instruction: %v", err)
	}
	return digest, nil
}

// SignWith signs the instruction with s.
func (inst *Instruction) SignWith(s darc.Signer) (*ExecuteRequest, error) {
	digest, err := inst.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return nil, xerrors.Errorf("signing instruction: %v", err)
	}
	return &ExecuteRequest{Instruction: *inst, Signer: s.Identity(), Signature: sig}, nil
}

// ExecuteRequest carries a signed instruction.
type ExecuteRequest struct {
	Instruction Instruction
	Signer      darc.Identity
	Signature   []byte
}

// ExecuteReply describes the committed call. Only the fields relevant to
// the command are set.
type ExecuteReply struct {
	Seq        uint64
	Round      lottery.RoundID
	RequestID  lottery.RequestID
	Settlement *lottery.Settlement
	Events     []ledger.EventRecord
}

// FulfillDrawRequest delivers beacon randomness for a pending draw. The
// tag of the randomness names the request.
type FulfillDrawRequest struct {
	Proof []byte
}

// FulfillDrawReply is returned once the draw is fulfilled.
type FulfillDrawReply struct {
	Round  lottery.RoundID
	Winner lottery.Identity
}

// DispatchRequest asks the service to answer all pending draw requests.
type DispatchRequest struct{}

// DispatchReply returns how many requests were fulfilled.
type DispatchReply struct {
	Fulfilled int
}

// GetRoundRequest asks for the record of a round.
type GetRoundRequest struct {
	Round lottery.RoundID
}

// GetRoundReply holds the round and its status at ledger time.
type GetRoundReply struct {
	Round  lottery.Round
	Status string
}

// GetRemainingTicketsRequest asks how many tickets of a round are unsold.
type GetRemainingTicketsRequest struct {
	Round lottery.RoundID
}

// GetRemainingTicketsReply holds the number of unsold tickets.
type GetRemainingTicketsReply struct {
	Remaining uint64
}

// GetWinnerRequest asks for the winner of a round.
type GetWinnerRequest struct {
	Round lottery.RoundID
}

// GetWinnerReply holds the winner, empty while the draw is not fulfilled.
type GetWinnerReply struct {
	Winner lottery.Identity
}

// BalanceRequest asks for the balance of an account.
type BalanceRequest struct {
	Identity lottery.Identity
}

// BalanceReply holds a balance.
type BalanceReply struct {
	Balance uint64
}

// CounterRequest asks for the last counter used by a signer.
type CounterRequest struct {
	Identity lottery.Identity
}

// CounterReply holds a signer counter.
type CounterReply struct {
	Counter uint64
}

// EventsRequest asks for the events with an index of at least From.
type EventsRequest struct {
	From uint64
}

// EventsReply holds events in index order.
type EventsReply struct {
	Events []ledger.EventRecord
}

// BeaconRequest asks for the public key of the beacon of the service.
type BeaconRequest struct{}

// BeaconReply holds the hex-encoded public key of the beacon.
type BeaconReply struct {
	Public string
	Oracle lottery.Identity
}

type storage struct {
	// BeaconKey is the hex-encoded private key of the beacon.
	BeaconKey string
}
