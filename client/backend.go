package main

import (
	"time"

	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/oracle"
	"github.com/dedis/lottery/randomness"
	"github.com/dedis/lottery/registry"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

// backend runs the commands of the tool, either on a local ledger file or
// on a conode.
type backend interface {
	Identity() lottery.Identity
	Mint(to lottery.Identity, amount uint64) error
	CreateRound(p lottery.RoundParams) (lottery.RoundID, error)
	BuyTickets(id lottery.RoundID, count, value uint64) error
	RequestDraw(id lottery.RoundID) (lottery.RequestID, error)
	Fulfill() (int, error)
	CancelDraw(id lottery.RoundID) error
	Claim(id lottery.RoundID) (*lottery.Settlement, error)
	Round(id lottery.RoundID) (*lottery.Round, string, error)
	Balance(id lottery.Identity) (uint64, error)
	Events(from uint64) ([]ledger.EventRecord, error)
	Now() (time.Time, error)
	Close() error
}

type localBackend struct {
	caller     lottery.Identity
	ledger     *ledger.Ledger
	registry   *lottery.Registry
	dispatcher *oracle.Dispatcher
}

// newLocalBackend opens the ledger of cfg. Calls are made as caller; a
// non-nil clock replaces the wall clock.
func newLocalBackend(cfg *config, caller lottery.Identity, clock ledger.Clock) (*localBackend, error) {
	rc := cfg.registryConfig()
	l, err := ledger.Open(cfg.Database, ledger.Config{Custodian: rc.Custodian, Clock: clock})
	if err != nil {
		return nil, err
	}
	var beacon *randomness.Beacon
	if cfg.BeaconKey != "" {
		priv, err := randomness.StringToPrivate(cfg.BeaconKey)
		if err != nil {
			l.Close()
			return nil, err
		}
		beacon = randomness.NewBeaconFromKey(priv, randomness.PublicFromPrivate(priv))
	}
	b := &localBackend{
		caller:   caller,
		ledger:   l,
		registry: lottery.NewRegistry(rc),
	}
	if beacon != nil {
		b.dispatcher, err = oracle.NewDispatcher(l, b.registry, beacon)
		if err != nil {
			l.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *localBackend) Identity() lottery.Identity {
	return b.caller
}

func (b *localBackend) call(value uint64) lottery.Call {
	return lottery.Call{Caller: b.caller, Value: value}
}

func (b *localBackend) Mint(to lottery.Identity, amount uint64) error {
	return b.ledger.Mint(to, amount)
}

func (b *localBackend) CreateRound(p lottery.RoundParams) (id lottery.RoundID, err error) {
	c := b.call(0)
	_, err = b.ledger.Execute(c, func(tx *ledger.Tx) error {
		id, err = b.registry.CreateRound(tx, c, p)
		return err
	})
	return
}

func (b *localBackend) BuyTickets(id lottery.RoundID, count, value uint64) error {
	c := b.call(value)
	_, err := b.ledger.Execute(c, func(tx *ledger.Tx) error {
		return b.registry.BuyTickets(tx, c, id, count)
	})
	return err
}

func (b *localBackend) RequestDraw(id lottery.RoundID) (req lottery.RequestID, err error) {
	c := b.call(0)
	_, err = b.ledger.Execute(c, func(tx *ledger.Tx) error {
		req, err = b.registry.RequestDraw(tx, c, id)
		return err
	})
	return
}

func (b *localBackend) Fulfill() (int, error) {
	if b.dispatcher == nil {
		return 0, xerrors.New("no beacon key configured")
	}
	return b.dispatcher.DispatchOnce()
}

func (b *localBackend) CancelDraw(id lottery.RoundID) error {
	c := b.call(0)
	_, err := b.ledger.Execute(c, func(tx *ledger.Tx) error {
		return b.registry.CancelDraw(tx, c, id)
	})
	return err
}

func (b *localBackend) Claim(id lottery.RoundID) (s *lottery.Settlement, err error) {
	c := b.call(0)
	_, err = b.ledger.Execute(c, func(tx *ledger.Tx) error {
		s, err = b.registry.ClaimLottery(tx, c, id)
		return err
	})
	return
}

func (b *localBackend) Round(id lottery.RoundID) (rnd *lottery.Round, status string, err error) {
	err = b.ledger.View(func(tx *ledger.Tx) error {
		rnd, err = b.registry.GetRound(tx, id)
		if err != nil {
			return err
		}
		status = rnd.Status(tx.Now())
		return nil
	})
	return
}

func (b *localBackend) Balance(id lottery.Identity) (uint64, error) {
	return b.ledger.Balance(id)
}

func (b *localBackend) Events(from uint64) ([]ledger.EventRecord, error) {
	return b.ledger.Events(from)
}

func (b *localBackend) Now() (now time.Time, err error) {
	err = b.ledger.View(func(tx *ledger.Tx) error {
		now = tx.Now()
		return nil
	})
	return
}

func (b *localBackend) Close() error {
	return b.ledger.Close()
}

type remoteBackend struct {
	cl     *registry.Client
	signer darc.Signer
}

func newRemoteBackend(roster *onet.Roster, signer darc.Signer) *remoteBackend {
	return &remoteBackend{cl: registry.NewClient(roster), signer: signer}
}

func (b *remoteBackend) Identity() lottery.Identity {
	return registry.Identity(b.signer)
}

// next returns the counter for the next instruction of the signer.
func (b *remoteBackend) next() (uint64, error) {
	ctr, err := b.cl.Counter(b.Identity())
	if err != nil {
		return 0, err
	}
	return ctr + 1, nil
}

func (b *remoteBackend) Mint(to lottery.Identity, amount uint64) error {
	if to != b.Identity() {
		return xerrors.New("a conode only mints to the signer")
	}
	ctr, err := b.next()
	if err != nil {
		return err
	}
	_, err = b.cl.Mint(b.signer, ctr, amount)
	return err
}

func (b *remoteBackend) CreateRound(p lottery.RoundParams) (lottery.RoundID, error) {
	ctr, err := b.next()
	if err != nil {
		return 0, err
	}
	return b.cl.CreateRound(b.signer, ctr, p)
}

func (b *remoteBackend) BuyTickets(id lottery.RoundID, count, value uint64) error {
	ctr, err := b.next()
	if err != nil {
		return err
	}
	_, err = b.cl.BuyTickets(b.signer, ctr, id, count, value)
	return err
}

func (b *remoteBackend) RequestDraw(id lottery.RoundID) (lottery.RequestID, error) {
	ctr, err := b.next()
	if err != nil {
		return "", err
	}
	return b.cl.RequestDraw(b.signer, ctr, id)
}

func (b *remoteBackend) Fulfill() (int, error) {
	return b.cl.Dispatch()
}

func (b *remoteBackend) CancelDraw(id lottery.RoundID) error {
	ctr, err := b.next()
	if err != nil {
		return err
	}
	_, err = b.cl.CancelDraw(b.signer, ctr, id)
	return err
}

func (b *remoteBackend) Claim(id lottery.RoundID) (*lottery.Settlement, error) {
	ctr, err := b.next()
	if err != nil {
		return nil, err
	}
	return b.cl.ClaimLottery(b.signer, ctr, id)
}

func (b *remoteBackend) Round(id lottery.RoundID) (*lottery.Round, string, error) {
	reply, err := b.cl.GetRound(id)
	if err != nil {
		return nil, "", err
	}
	return &reply.Round, reply.Status, nil
}

func (b *remoteBackend) Balance(id lottery.Identity) (uint64, error) {
	return b.cl.Balance(id)
}

func (b *remoteBackend) Events(from uint64) ([]ledger.EventRecord, error) {
	reply, err := b.cl.Events(from)
	if err != nil {
		return nil, err
	}
	return reply.Events, nil
}

func (b *remoteBackend) Now() (time.Time, error) {
	return time.Now(), nil
}

func (b *remoteBackend) Close() error {
	return b.cl.Close()
}
