package main

import (
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/registry"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"
)

// SimulationService runs lottery rounds against the registry of the root
// conode.
type SimulationService struct {
	onet.SimulationBFTree
	NumParticipants   int
	TicketsPerBuyer   uint64
	TicketPrice       uint64
	MaxTickets        uint64
	CommissionPercent uint64
	// SalesWindow is in seconds.
	SalesWindow int

	cl       *registry.Client
	operator *participant
	buyers   []*participant
}

type participant struct {
	signer darc.Signer
	id     lottery.Identity
	ctr    uint64
}

func newParticipant() *participant {
	s := darc.NewSignerEd25519(nil, nil)
	return &participant{signer: s, id: registry.Identity(s)}
}

func (p *participant) next() uint64 {
	p.ctr++
	return p.ctr
}

func init() {
	onet.SimulationRegister("Lottery", NewLotterySimulation)
}

// NewLotterySimulation reads the simulation parameters from config.
func NewLotterySimulation(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

// Setup creates the roster and the tree of the simulation.
func (s *SimulationService) Setup(dir string, hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Node is run on every node of the simulation.
func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.GetID())
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) setupParticipants() error {
	s.operator = newParticipant()
	s.buyers = make([]*participant, s.NumParticipants)
	funds := s.TicketPrice * s.TicketsPerBuyer * uint64(s.Rounds)
	for i := range s.buyers {
		p := newParticipant()
		if _, err := s.cl.Mint(p.signer, p.next(), funds); err != nil {
			return xerrors.Errorf("minting for participant %d: %v", i, err)
		}
		s.buyers[i] = p
	}
	return nil
}

func (s *SimulationService) runRound() error {
	createMonitor := monitor.NewTimeMeasure("create")
	expiration := time.Now().Add(time.Duration(s.SalesWindow) * time.Second)
	id, err := s.cl.CreateRound(s.operator.signer, s.operator.next(), lottery.RoundParams{
		Operator:          s.operator.id,
		TicketPrice:       s.TicketPrice,
		MaxTickets:        s.MaxTickets,
		CommissionPercent: s.CommissionPercent,
		Expiration:        expiration.Unix(),
	})
	createMonitor.Record()
	if err != nil {
		return xerrors.Errorf("creating round: %v", err)
	}

	buyMonitor := monitor.NewTimeMeasure("buy")
	var wg sync.WaitGroup
	errs := make([]error, len(s.buyers))
	for i, p := range s.buyers {
		wg.Add(1)
		go func(i int, p *participant) {
			defer wg.Done()
			_, errs[i] = s.cl.BuyTickets(p.signer, p.next(), id, s.TicketsPerBuyer,
				s.TicketPrice*s.TicketsPerBuyer)
		}(i, p)
	}
	wg.Wait()
	buyMonitor.Record()
	sold := 0
	for i, err := range errs {
		if err != nil {
			// The signer counter was not consumed.
			s.buyers[i].ctr--
			log.Lvlf2("participant %d could not buy: %v", i, err)
			continue
		}
		sold++
	}
	log.Lvlf1("round %d: %d/%d participants bought tickets", id, sold, len(s.buyers))

	// Draws are only accepted once the sales window has passed.
	time.Sleep(time.Until(expiration) + 1500*time.Millisecond)

	drawMonitor := monitor.NewTimeMeasure("draw")
	if _, err := s.cl.RequestDraw(s.operator.signer, s.operator.next(), id); err != nil {
		return xerrors.Errorf("requesting draw: %v", err)
	}
	winner, err := s.cl.GetWinner(id)
	drawMonitor.Record()
	if err != nil {
		return err
	}

	claimMonitor := monitor.NewTimeMeasure("claim")
	for _, p := range s.buyers {
		if p.id != winner {
			continue
		}
		settlement, err := s.cl.ClaimLottery(p.signer, p.next(), id)
		if err != nil {
			return xerrors.Errorf("claiming round %d: %v", id, err)
		}
		log.Lvlf1("round %d: %d to the winner, %d to the operator", id,
			settlement.WinnerShare, settlement.Commission)
	}
	claimMonitor.Record()
	return nil
}

// Run is only called on the root node.
func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	s.cl = registry.NewClient(config.Roster)
	defer s.cl.Close()
	if err := s.setupParticipants(); err != nil {
		return err
	}
	for round := 0; round < s.Rounds; round++ {
		log.Lvl1("Starting round", round)
		roundMonitor := monitor.NewTimeMeasure("round")
		err := s.runRound()
		roundMonitor.Record()
		if err != nil {
			log.Error(err)
			return err
		}
	}
	return nil
}
