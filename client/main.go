package main

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"time"

	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/randomness"
	"github.com/dedis/lottery/registry"
	"github.com/dedis/lottery/utils"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "lottery"
	app.Usage = "run ticketed lottery rounds"
	app.Version = "0.1"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "configuration file of the local ledger",
		},
		cli.StringFlag{
			Name:  "as",
			Usage: "identity making local calls",
		},
		cli.Int64Flag{
			Name:  "now",
			Usage: "unix time of local calls instead of the wall clock",
		},
		cli.StringFlag{
			Name:  "roster, r",
			Usage: "group definition of a conode running the registry",
		},
		cli.StringFlag{
			Name:   "key, k",
			Usage:  "hex-encoded signer secret for calls to a conode",
			EnvVar: "LOTTERY_KEY",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "keygen",
			Usage: "create a signer, or a beacon key with --beacon",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "beacon", Usage: "create a beacon key pair"},
			},
			Action: keygen,
		},
		{
			Name:      "mint",
			Usage:     "credit an account",
			ArgsUsage: "identity amount",
			Action:    withBackend(mint),
		},
		{
			Name:  "create",
			Usage: "create a round",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "operator", Usage: "operator of the round, the caller if empty"},
				cli.Uint64Flag{Name: "price", Usage: "price of a ticket"},
				cli.Uint64Flag{Name: "tickets", Usage: "number of tickets for sale"},
				cli.Uint64Flag{Name: "commission", Usage: "percentage of the pool going to the operator"},
				cli.DurationFlag{Name: "duration", Value: time.Hour, Usage: "how long tickets are sold"},
			},
			Action: withBackend(create),
		},
		{
			Name:      "buy",
			Usage:     "buy tickets",
			ArgsUsage: "round count",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "value", Usage: "value to pay, the price of the tickets if zero"},
			},
			Action: withBackend(buy),
		},
		{
			Name:      "draw",
			Usage:     "request the draw of an expired round",
			ArgsUsage: "round",
			Action:    withBackend(draw),
		},
		{
			Name:   "fulfill",
			Usage:  "answer pending draw requests with beacon randomness",
			Action: withBackend(fulfill),
		},
		{
			Name:      "cancel",
			Usage:     "cancel an unanswered draw request",
			ArgsUsage: "round",
			Action:    withBackend(cancelDraw),
		},
		{
			Name:      "claim",
			Usage:     "pay out a drawn round",
			ArgsUsage: "round",
			Action:    withBackend(claim),
		},
		{
			Name:      "show",
			Usage:     "show a round",
			ArgsUsage: "round",
			Action:    withBackend(show),
		},
		{
			Name:      "balance",
			Usage:     "show the balance of an account, the caller if none is given",
			ArgsUsage: "[identity]",
			Action:    withBackend(balance),
		},
		{
			Name:  "events",
			Usage: "list events",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "from", Usage: "first event index"},
			},
			Action: withBackend(events),
		},
	}
	return app
}

func openBackend(c *cli.Context) (backend, error) {
	if path := c.GlobalString("roster"); path != "" {
		roster, err := utils.ReadRoster(path)
		if err != nil {
			return nil, err
		}
		key := c.GlobalString("key")
		if key == "" {
			return nil, xerrors.New("calls to a conode need a signer key")
		}
		signer, err := utils.StringToSigner(key)
		if err != nil {
			return nil, err
		}
		return newRemoteBackend(roster, signer), nil
	}
	cfg, err := readConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	var clock ledger.Clock
	if now := c.GlobalInt64("now"); now != 0 {
		clock = ledger.NewManualClock(time.Unix(now, 0))
	}
	return newLocalBackend(cfg, lottery.Identity(c.GlobalString("as")), clock)
}

func withBackend(fn func(*cli.Context, backend) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		b, err := openBackend(c)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(c, b)
	}
}

func uintArg(c *cli.Context, i int, name string) (uint64, error) {
	if c.NArg() <= i {
		return 0, xerrors.Errorf("missing %s", name)
	}
	v, err := strconv.ParseUint(c.Args().Get(i), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("invalid %s: %v", name, err)
	}
	return v, nil
}

func roundArg(c *cli.Context) (lottery.RoundID, error) {
	id, err := uintArg(c, 0, "round")
	return lottery.RoundID(id), err
}

func keygen(c *cli.Context) error {
	if c.Bool("beacon") {
		priv, pub := randomness.NewKeyPair()
		ps, err := randomness.PrivateToString(priv)
		if err != nil {
			return err
		}
		pp, err := randomness.PublicToString(pub)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "BeaconKey = %q\n# public: %s\n", ps, pp)
		return nil
	}
	signer := darc.NewSignerEd25519(nil, nil)
	secret, err := utils.SignerToString(signer)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "secret: %s\nidentity: %s\n", secret, registry.Identity(signer))
	return nil
}

func mint(c *cli.Context, b backend) error {
	if c.NArg() < 1 {
		return xerrors.New("missing identity")
	}
	to := lottery.Identity(c.Args().First())
	amount, err := uintArg(c, 1, "amount")
	if err != nil {
		return err
	}
	if err := b.Mint(to, amount); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "minted %d to %s\n", amount, to)
	return nil
}

func create(c *cli.Context, b backend) error {
	op := lottery.Identity(c.String("operator"))
	if op == "" {
		op = b.Identity()
	}
	now, err := b.Now()
	if err != nil {
		return xerrors.Errorf("reading ledger time: %v", err)
	}
	id, err := b.CreateRound(lottery.RoundParams{
		Operator:          op,
		TicketPrice:       c.Uint64("price"),
		MaxTickets:        c.Uint64("tickets"),
		CommissionPercent: c.Uint64("commission"),
		Expiration:        now.Add(c.Duration("duration")).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "round %d created\n", id)
	return nil
}

func buy(c *cli.Context, b backend) error {
	id, err := roundArg(c)
	if err != nil {
		return err
	}
	count, err := uintArg(c, 1, "count")
	if err != nil {
		return err
	}
	value := c.Uint64("value")
	if value == 0 {
		rnd, _, err := b.Round(id)
		if err != nil {
			return err
		}
		hi, lo := bits.Mul64(rnd.TicketPrice, count)
		if hi != 0 {
			return xerrors.Errorf("%d tickets at %d overflow the value of a call", count, rnd.TicketPrice)
		}
		value = lo
	}
	if err := b.BuyTickets(id, count, value); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "bought %d tickets of round %d for %d\n", count, id, value)
	return nil
}

func draw(c *cli.Context, b backend) error {
	id, err := roundArg(c)
	if err != nil {
		return err
	}
	req, err := b.RequestDraw(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "draw of round %d requested: %s\n", id, req)
	return nil
}

func fulfill(c *cli.Context, b backend) error {
	n, err := b.Fulfill()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d draw requests fulfilled\n", n)
	return nil
}

func cancelDraw(c *cli.Context, b backend) error {
	id, err := roundArg(c)
	if err != nil {
		return err
	}
	if err := b.CancelDraw(id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "draw of round %d cancelled\n", id)
	return nil
}

func claim(c *cli.Context, b backend) error {
	id, err := roundArg(c)
	if err != nil {
		return err
	}
	s, err := b.Claim(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "round %d settled: %d to %s, %d to %s\n",
		id, s.WinnerShare, s.Winner, s.Commission, s.Operator)
	return nil
}

func show(c *cli.Context, b backend) error {
	id, err := roundArg(c)
	if err != nil {
		return err
	}
	rnd, status, err := b.Round(id)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "round:      %d\n", rnd.ID)
	fmt.Fprintf(w, "status:     %s\n", status)
	fmt.Fprintf(w, "operator:   %s\n", rnd.Operator)
	fmt.Fprintf(w, "price:      %d\n", rnd.TicketPrice)
	fmt.Fprintf(w, "sold:       %d/%d\n", rnd.TicketsSold, rnd.MaxTickets)
	fmt.Fprintf(w, "commission: %d%%\n", rnd.CommissionPercent)
	fmt.Fprintf(w, "expiration: %s\n", time.Unix(rnd.Expiration, 0).UTC())
	fmt.Fprintf(w, "pool:       %d\n", rnd.Pool())
	for _, p := range rnd.Participants {
		fmt.Fprintf(w, "  tickets %d-%d: %s\n", p.First, p.First+p.Count-1, p.Buyer)
	}
	if rnd.Winner != "" {
		fmt.Fprintf(w, "winner:     %s (ticket %d)\n", rnd.Winner, rnd.WinningIndex)
	}
	return nil
}

func balance(c *cli.Context, b backend) error {
	id := lottery.Identity(c.Args().First())
	if id == "" {
		id = b.Identity()
	}
	bal, err := b.Balance(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: %d\n", id, bal)
	return nil
}

func events(c *cli.Context, b backend) error {
	evs, err := b.Events(c.Uint64("from"))
	if err != nil {
		return err
	}
	for _, rec := range evs {
		ev := rec.Event
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\tround=%d actor=%s count=%d amount=%d",
			rec.Index, time.Unix(rec.Time, 0).UTC().Format(time.RFC3339), ev.Kind,
			ev.Round, ev.Actor, ev.Count, ev.Amount)
		if ev.Secondary != 0 {
			fmt.Fprintf(c.App.Writer, " secondary=%d", ev.Secondary)
		}
		if ev.RequestID != "" {
			fmt.Fprintf(c.App.Writer, " request=%s", ev.RequestID)
		}
		fmt.Fprintln(c.App.Writer)
	}
	return nil
}
