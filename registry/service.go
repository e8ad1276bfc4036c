package registry

/*
The service hosts the lottery registry on the conode. Calls are executed
against a ledger stored in a bucket of the conode database; draw requests
are answered by a beacon whose key is kept in the service storage.
*/

import (
	"os"
	"sync"

	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/oracle"
	"github.com/dedis/lottery/randomness"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var registryID onet.ServiceID

// ServiceName is the name of the lottery registry service.
const ServiceName = "LotteryRegistry"

var storageKey = []byte("storage")
var ledgerBucket = []byte("ledger")

// faucetLimit caps the amount a single mint instruction can create.
const faucetLimit = 1000000

// FaucetEnv enables mint instructions on conodes started with it set to a
// non-empty value. Without it minting is refused.
const FaucetEnv = "LOTTERY_FAUCET"

func init() {
	var err error
	registryID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
}

// Service is the lottery registry service.
type Service struct {
	*onet.ServiceProcessor

	storage    *storage
	ledger     *ledger.Ledger
	registry   *lottery.Registry
	dispatcher *oracle.Dispatcher

	// autoDispatch answers draw requests as soon as they are committed.
	autoDispatch bool
	// faucet accepts mint instructions.
	faucet bool
	sync.Mutex
}

// Execute verifies and runs a signed instruction.
func (s *Service) Execute(req *ExecuteRequest) (*ExecuteReply, error) {
	inst := req.Instruction
	digest, err := inst.Hash()
	if err != nil {
		return nil, err
	}
	if err := req.Signer.Verify(digest, req.Signature); err != nil {
		return nil, xerrors.Errorf("invalid signature: %v", err)
	}
	caller := lottery.Identity(req.Signer.String())
	call := lottery.Call{Caller: caller, Value: inst.Value}
	if inst.Command == CmdMint {
		// Minted value does not come from the caller.
		call.Value = 0
	}

	reply := &ExecuteReply{}
	rcpt, err := s.ledger.Execute(call, func(tx *ledger.Tx) error {
		if err := tx.CheckCounter(caller, inst.Counter); err != nil {
			return err
		}
		return s.run(tx, call, &inst, reply)
	})
	if err != nil {
		log.Lvlf2("%s from %s refused: %v", inst.Command, caller, err)
		return nil, err
	}
	reply.Seq = rcpt.Seq
	reply.Events = rcpt.Events

	if inst.Command == CmdRequestDraw && s.autoDispatch {
		if _, err := s.dispatcher.DispatchOnce(); err != nil {
			log.Error(err)
		}
	}
	return reply, nil
}

func (s *Service) run(tx *ledger.Tx, call lottery.Call, inst *Instruction, reply *ExecuteReply) error {
	var err error
	switch inst.Command {
	case CmdCreateRound:
		reply.Round, err = s.registry.CreateRound(tx, call, inst.Params)
	case CmdBuyTickets:
		reply.Round = inst.Round
		err = s.registry.BuyTickets(tx, call, inst.Round, inst.Count)
	case CmdRequestDraw:
		reply.Round = inst.Round
		reply.RequestID, err = s.registry.RequestDraw(tx, call, inst.Round)
	case CmdCancelDraw:
		reply.Round = inst.Round
		err = s.registry.CancelDraw(tx, call, inst.Round)
	case CmdClaim:
		reply.Round = inst.Round
		reply.Settlement, err = s.registry.ClaimLottery(tx, call, inst.Round)
	case CmdMint:
		if !s.faucet {
			return xerrors.Errorf("minting is disabled on this conode: %w",
				lottery.ErrUnauthorized)
		}
		if inst.Value > faucetLimit {
			return xerrors.Errorf("cannot mint more than %d: %w", faucetLimit,
				lottery.ErrInvalidParameters)
		}
		err = tx.Credit(call.Caller, inst.Value)
	default:
		err = xerrors.Errorf("unknown command %q", inst.Command)
	}
	return err
}

// FulfillDraw delivers randomness produced by the beacon of this service.
func (s *Service) FulfillDraw(req *FulfillDrawRequest) (*FulfillDrawReply, error) {
	r, err := randomness.Decode(req.Proof)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.Deliver(r); err != nil {
		return nil, err
	}
	reply := &FulfillDrawReply{}
	err = s.ledger.View(func(tx *ledger.Tx) error {
		id, err := tx.RoundForRequest(lottery.RequestID(r.Tag))
		if err != nil {
			return err
		}
		reply.Round = id
		reply.Winner, err = s.registry.GetWinner(tx, id)
		return err
	})
	return reply, err
}

// Dispatch answers every pending draw request.
func (s *Service) Dispatch(req *DispatchRequest) (*DispatchReply, error) {
	n, err := s.dispatcher.DispatchOnce()
	if err != nil {
		return nil, err
	}
	return &DispatchReply{Fulfilled: n}, nil
}

// GetRound returns a round and its current status.
func (s *Service) GetRound(req *GetRoundRequest) (*GetRoundReply, error) {
	reply := &GetRoundReply{}
	err := s.ledger.View(func(tx *ledger.Tx) error {
		rnd, err := s.registry.GetRound(tx, req.Round)
		if err != nil {
			return err
		}
		reply.Round = *rnd
		reply.Status = rnd.Status(tx.Now())
		return nil
	})
	return reply, err
}

// GetRemainingTickets returns the unsold tickets of a round.
func (s *Service) GetRemainingTickets(req *GetRemainingTicketsRequest) (*GetRemainingTicketsReply, error) {
	reply := &GetRemainingTicketsReply{}
	err := s.ledger.View(func(tx *ledger.Tx) (err error) {
		reply.Remaining, err = s.registry.GetRemainingTickets(tx, req.Round)
		return
	})
	return reply, err
}

// GetWinner returns the winner of a round.
func (s *Service) GetWinner(req *GetWinnerRequest) (*GetWinnerReply, error) {
	reply := &GetWinnerReply{}
	err := s.ledger.View(func(tx *ledger.Tx) (err error) {
		reply.Winner, err = s.registry.GetWinner(tx, req.Round)
		return
	})
	return reply, err
}

// Balance returns the balance of an account.
func (s *Service) Balance(req *BalanceRequest) (*BalanceReply, error) {
	bal, err := s.ledger.Balance(req.Identity)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{Balance: bal}, nil
}

// Counter returns the last counter used by a signer.
func (s *Service) Counter(req *CounterRequest) (*CounterReply, error) {
	ctr, err := s.ledger.Counter(req.Identity)
	if err != nil {
		return nil, err
	}
	return &CounterReply{Counter: ctr}, nil
}

// Events returns the persisted events.
func (s *Service) Events(req *EventsRequest) (*EventsReply, error) {
	evs, err := s.ledger.Events(req.From)
	if err != nil {
		return nil, err
	}
	return &EventsReply{Events: evs}, nil
}

// Beacon returns the public key verifying the randomness of this service.
func (s *Service) Beacon(req *BeaconRequest) (*BeaconReply, error) {
	pub, err := randomness.PublicToString(s.dispatcher.Beacon.Public())
	if err != nil {
		return nil, err
	}
	return &BeaconReply{Public: pub, Oracle: s.dispatcher.Identity}, nil
}

func (s *Service) save() error {
	s.Lock()
	defer s.Unlock()
	err := s.Save(storageKey, s.storage)
	if err != nil {
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

func (s *Service) tryLoad() error {
	s.storage = &storage{}
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return xerrors.New("store of wrong type")
	}
	return nil
}

// setupBeacon loads the beacon key from the storage, or creates and saves
// a new one.
func (s *Service) setupBeacon() (*randomness.Beacon, error) {
	if s.storage.BeaconKey != "" {
		priv, err := randomness.StringToPrivate(s.storage.BeaconKey)
		if err != nil {
			return nil, err
		}
		return randomness.NewBeaconFromKey(priv, randomness.PublicFromPrivate(priv)), nil
	}
	priv, pub := randomness.NewKeyPair()
	str, err := randomness.PrivateToString(priv)
	if err != nil {
		return nil, err
	}
	s.storage.BeaconKey = str
	if err := s.save(); err != nil {
		return nil, err
	}
	return randomness.NewBeaconFromKey(priv, pub), nil
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		registry:         lottery.NewRegistry(lottery.DefaultConfig()),
		autoDispatch:     true,
		faucet:           os.Getenv(FaucetEnv) != "",
	}
	err := s.RegisterHandlers(s.Execute, s.FulfillDraw, s.Dispatch,
		s.GetRound, s.GetRemainingTickets, s.GetWinner,
		s.Balance, s.Counter, s.Events, s.Beacon)
	if err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		return nil, err
	}

	db, bucket := c.GetAdditionalBucket(ledgerBucket)
	s.ledger, err = ledger.New(db, ledger.Config{
		Root:      bucket,
		Custodian: s.registry.Config().Custodian,
	})
	if err != nil {
		return nil, err
	}
	beacon, err := s.setupBeacon()
	if err != nil {
		return nil, err
	}
	s.dispatcher, err = oracle.NewDispatcher(s.ledger, s.registry, beacon)
	if err != nil {
		return nil, err
	}
	return s, nil
}
