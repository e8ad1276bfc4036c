package registry

import (
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/randomness"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
)

// Client talks to the registry service of the first conode of a roster.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

// NewClient returns a client for the roster r.
func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

// Identity returns the ledger identity of a signer.
func Identity(s darc.Signer) lottery.Identity {
	return lottery.Identity(s.Identity().String())
}

// Execute signs inst with signer and sends it.
func (c *Client) Execute(signer darc.Signer, inst *Instruction) (*ExecuteReply, error) {
	req, err := inst.SignWith(signer)
	if err != nil {
		return nil, err
	}
	reply := &ExecuteReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

// CreateRound creates a round and returns its identifier.
func (c *Client) CreateRound(signer darc.Signer, ctr uint64, p lottery.RoundParams) (lottery.RoundID, error) {
	reply, err := c.Execute(signer, &Instruction{Command: CmdCreateRound, Params: p, Counter: ctr})
	if err != nil {
		return 0, err
	}
	return reply.Round, nil
}

// BuyTickets buys count tickets paying value.
func (c *Client) BuyTickets(signer darc.Signer, ctr uint64, id lottery.RoundID, count, value uint64) (*ExecuteReply, error) {
	return c.Execute(signer, &Instruction{Command: CmdBuyTickets, Round: id,
		Count: count, Value: value, Counter: ctr})
}

// RequestDraw asks for the draw of a round and returns the correlation id.
func (c *Client) RequestDraw(signer darc.Signer, ctr uint64, id lottery.RoundID) (lottery.RequestID, error) {
	reply, err := c.Execute(signer, &Instruction{Command: CmdRequestDraw, Round: id, Counter: ctr})
	if err != nil {
		return "", err
	}
	return reply.RequestID, nil
}

// CancelDraw drops an unanswered draw request.
func (c *Client) CancelDraw(signer darc.Signer, ctr uint64, id lottery.RoundID) (*ExecuteReply, error) {
	return c.Execute(signer, &Instruction{Command: CmdCancelDraw, Round: id, Counter: ctr})
}

// ClaimLottery settles a drawn round.
func (c *Client) ClaimLottery(signer darc.Signer, ctr uint64, id lottery.RoundID) (*lottery.Settlement, error) {
	reply, err := c.Execute(signer, &Instruction{Command: CmdClaim, Round: id, Counter: ctr})
	if err != nil {
		return nil, err
	}
	return reply.Settlement, nil
}

// Mint credits amount to the signer.
func (c *Client) Mint(signer darc.Signer, ctr uint64, amount uint64) (*ExecuteReply, error) {
	return c.Execute(signer, &Instruction{Command: CmdMint, Value: amount, Counter: ctr})
}

// FulfillDraw delivers randomness for a pending draw.
func (c *Client) FulfillDraw(r *randomness.Randomness) (*FulfillDrawReply, error) {
	buf, err := r.Encode()
	if err != nil {
		return nil, err
	}
	reply := &FulfillDrawReply{}
	err = c.SendProtobuf(c.roster.List[0], &FulfillDrawRequest{Proof: buf}, reply)
	return reply, err
}

// Dispatch asks the service to answer pending draw requests.
func (c *Client) Dispatch() (int, error) {
	reply := &DispatchReply{}
	err := c.SendProtobuf(c.roster.List[0], &DispatchRequest{}, reply)
	return reply.Fulfilled, err
}

// GetRound returns a round and its status.
func (c *Client) GetRound(id lottery.RoundID) (*GetRoundReply, error) {
	reply := &GetRoundReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetRoundRequest{Round: id}, reply)
	return reply, err
}

// GetRemainingTickets returns the unsold tickets of a round.
func (c *Client) GetRemainingTickets(id lottery.RoundID) (uint64, error) {
	reply := &GetRemainingTicketsReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetRemainingTicketsRequest{Round: id}, reply)
	return reply.Remaining, err
}

// GetWinner returns the winner of a round.
func (c *Client) GetWinner(id lottery.RoundID) (lottery.Identity, error) {
	reply := &GetWinnerReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetWinnerRequest{Round: id}, reply)
	return reply.Winner, err
}

// Balance returns the balance of id.
func (c *Client) Balance(id lottery.Identity) (uint64, error) {
	reply := &BalanceReply{}
	err := c.SendProtobuf(c.roster.List[0], &BalanceRequest{Identity: id}, reply)
	return reply.Balance, err
}

// Counter returns the last counter used by id.
func (c *Client) Counter(id lottery.Identity) (uint64, error) {
	reply := &CounterReply{}
	err := c.SendProtobuf(c.roster.List[0], &CounterRequest{Identity: id}, reply)
	return reply.Counter, err
}

// Events returns the events with an index of at least from.
func (c *Client) Events(from uint64) (*EventsReply, error) {
	reply := &EventsReply{}
	err := c.SendProtobuf(c.roster.List[0], &EventsRequest{From: from}, reply)
	return reply, err
}

// Beacon returns the public key of the beacon of the service.
func (c *Client) Beacon() (kyber.Point, error) {
	reply := &BeaconReply{}
	if err := c.SendProtobuf(c.roster.List[0], &BeaconRequest{}, reply); err != nil {
		return nil, err
	}
	return randomness.StringToPublic(reply.Public)
}
