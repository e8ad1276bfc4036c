package ledger

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dedis/lottery/lottery"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var start = time.Unix(1600000000, 0)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type fixture struct {
	dir   string
	clock *ManualClock
	l     *Ledger
	reg   *lottery.Registry
}

func newFixture(t *testing.T) *fixture {
	dir, err := ioutil.TempDir("", "ledger")
	require.NoError(t, err)
	f := &fixture{dir: dir, clock: NewManualClock(start)}
	f.open(t)
	f.reg = lottery.NewRegistry(lottery.DefaultConfig())
	return f
}

func (f *fixture) open(t *testing.T) {
	l, err := Open(filepath.Join(f.dir, "ledger.db"), Config{Clock: f.clock})
	require.NoError(t, err)
	f.l = l
}

func (f *fixture) close() {
	f.l.Close()
	os.RemoveAll(f.dir)
}

func (f *fixture) balance(t *testing.T, id lottery.Identity) uint64 {
	b, err := f.l.Balance(id)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t *testing.T, op lottery.Identity) lottery.RoundID {
	var id lottery.RoundID
	_, err := f.l.Execute(lottery.Call{Caller: op}, func(tx *Tx) (err error) {
		id, err = f.reg.CreateRound(tx, lottery.Call{Caller: op}, lottery.RoundParams{
			Operator:          op,
			TicketPrice:       10,
			MaxTickets:        5,
			CommissionPercent: 10,
			Expiration:        start.Add(time.Hour).Unix(),
		})
		return
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) buy(id lottery.RoundID, who lottery.Identity, count, value uint64) error {
	call := lottery.Call{Caller: who, Value: value}
	_, err := f.l.Execute(call, func(tx *Tx) error {
		return f.reg.BuyTickets(tx, call, id, count)
	})
	return err
}

func TestLedger_Execute(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	require.NoError(t, f.l.Mint("alice", 100))
	call := lottery.Call{Caller: "alice", Value: 30}
	rcpt, err := f.l.Execute(call, func(tx *Tx) error {
		require.Equal(t, uint64(70), tx.Balance("alice"))
		return tx.Emit(&lottery.Event{Kind: "test", Actor: "alice"})
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rcpt.Seq)
	require.Equal(t, start, rcpt.Time)
	require.Len(t, rcpt.Events, 1)
	require.Equal(t, uint64(1), rcpt.Events[0].Index)

	require.Equal(t, uint64(70), f.balance(t, "alice"))
	require.Equal(t, uint64(30), f.balance(t, f.l.Custodian()))
}

func TestLedger_Rollback(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	require.NoError(t, f.l.Mint("alice", 100))
	errFail := xerrors.New("fail")
	call := lottery.Call{Caller: "alice", Value: 30}
	_, err := f.l.Execute(call, func(tx *Tx) error {
		_, err := tx.NextRoundID()
		require.NoError(t, err)
		require.NoError(t, tx.Emit(&lottery.Event{Kind: "test"}))
		_, err = tx.SubmitRequest(1)
		require.NoError(t, err)
		return errFail
	})
	require.True(t, xerrors.Is(err, errFail))

	require.Equal(t, uint64(100), f.balance(t, "alice"))
	require.Equal(t, uint64(0), f.balance(t, f.l.Custodian()))
	evs, err := f.l.Events(0)
	require.NoError(t, err)
	require.Empty(t, evs)
	reqs, err := f.l.PendingRequests()
	require.NoError(t, err)
	require.Empty(t, reqs)

	// Neither the call sequence nor the round identifiers are consumed.
	id := f.create(t, "op")
	require.Equal(t, lottery.RoundID(1), id)
	evs, err = f.l.Events(0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, uint64(1), evs[0].Seq)
}

func TestLedger_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	require.NoError(t, f.l.Mint("alice", 10))
	called := false
	_, err := f.l.Execute(lottery.Call{Caller: "alice", Value: 11}, func(*Tx) error {
		called = true
		return nil
	})
	require.True(t, xerrors.Is(err, ErrInsufficientFunds))
	require.False(t, called)
	require.Equal(t, uint64(10), f.balance(t, "alice"))

	require.Error(t, f.l.Mint("", 1))
}

func TestLedger_Lottery(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	require.NoError(t, f.l.Mint("alice", 100))
	require.NoError(t, f.l.Mint("bob", 100))
	id := f.create(t, "op")

	require.NoError(t, f.buy(id, "alice", 2, 20))
	// A rejected purchase refunds the attached value.
	err := f.buy(id, "bob", 4, 40)
	require.True(t, xerrors.Is(err, lottery.ErrCapacityExceeded))
	require.Equal(t, uint64(100), f.balance(t, "bob"))
	err = f.buy(id, "bob", 3, 31)
	require.True(t, xerrors.Is(err, lottery.ErrValueMismatch))
	require.Equal(t, uint64(100), f.balance(t, "bob"))
	require.NoError(t, f.buy(id, "bob", 3, 30))

	require.Equal(t, uint64(50), f.balance(t, f.l.Custodian()))
	require.Equal(t, uint64(80), f.balance(t, "alice"))
	require.Equal(t, uint64(70), f.balance(t, "bob"))

	f.clock.Advance(2 * time.Hour)
	var req lottery.RequestID
	_, err = f.l.Execute(lottery.Call{Caller: "op"}, func(tx *Tx) (err error) {
		req, err = f.reg.RequestDraw(tx, lottery.Call{Caller: "op"}, id)
		return
	})
	require.NoError(t, err)

	reqs, err := f.l.PendingRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, req, reqs[0].ID)
	require.Equal(t, id, reqs[0].Round)

	oracle := lottery.Call{Caller: lottery.DefaultConfig().Oracle}
	_, err = f.l.Execute(oracle, func(tx *Tx) error {
		if err := f.reg.FulfillDraw(tx, oracle, req, 7); err != nil {
			return err
		}
		return tx.MarkRequest(req, RequestFulfilled, []byte("proof"))
	})
	require.NoError(t, err)
	reqs, err = f.l.PendingRequests()
	require.NoError(t, err)
	require.Empty(t, reqs)
	r, err := f.l.Request(req)
	require.NoError(t, err)
	require.Equal(t, RequestFulfilled, r.Status)
	require.Equal(t, []byte("proof"), r.Proof)

	// 7 mod 5 = 2, the first ticket of bob.
	var winner lottery.Identity
	require.NoError(t, f.l.View(func(tx *Tx) (err error) {
		winner, err = f.reg.GetWinner(tx, id)
		return
	}))
	require.Equal(t, lottery.Identity("bob"), winner)

	bob := lottery.Call{Caller: "bob"}
	rcpt, err := f.l.Execute(bob, func(tx *Tx) error {
		_, err := f.reg.ClaimLottery(tx, bob, id)
		return err
	})
	require.NoError(t, err)
	require.Len(t, rcpt.Events, 1)
	require.Equal(t, lottery.EventRoundSettled, rcpt.Events[0].Event.Kind)
	require.Equal(t, uint64(0), f.balance(t, f.l.Custodian()))
	require.Equal(t, uint64(5), f.balance(t, "op"))
	require.Equal(t, uint64(115), f.balance(t, "bob"))

	evs, err := f.l.Events(0)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range evs {
		kinds = append(kinds, ev.Event.Kind)
	}
	require.Equal(t, []string{
		lottery.EventRoundCreated,
		lottery.EventTicketsPurchased,
		lottery.EventTicketsPurchased,
		lottery.EventDrawRequested,
		lottery.EventWinnerSelected,
		lottery.EventRoundSettled,
	}, kinds)
	evs, err = f.l.Events(5)
	require.NoError(t, err)
	require.Len(t, evs, 2)
}

func TestLedger_Persistence(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	require.NoError(t, f.l.Mint("alice", 100))
	id := f.create(t, "op")
	require.NoError(t, f.buy(id, "alice", 1, 10))
	require.NoError(t, f.l.Close())

	f.open(t)
	require.Equal(t, uint64(90), f.balance(t, "alice"))
	require.NoError(t, f.l.View(func(tx *Tx) error {
		rnd, err := tx.Round(id)
		require.NoError(t, err)
		require.Equal(t, uint64(1), rnd.TicketsSold)
		require.Equal(t, []lottery.Participant{{Buyer: "alice", First: 0, Count: 1}},
			rnd.Participants)
		rounds, err := tx.Rounds()
		require.NoError(t, err)
		require.Len(t, rounds, 1)
		return nil
	}))
	require.Equal(t, lottery.RoundID(2), f.create(t, "op"))
}

func TestLedger_Counter(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	check := func(ctr uint64) error {
		_, err := f.l.Execute(lottery.Call{Caller: "alice"}, func(tx *Tx) error {
			return tx.CheckCounter("alice", ctr)
		})
		return err
	}
	require.True(t, xerrors.Is(check(0), ErrBadCounter))
	require.True(t, xerrors.Is(check(2), ErrBadCounter))
	require.NoError(t, check(1))
	require.True(t, xerrors.Is(check(1), ErrBadCounter))
	require.NoError(t, check(2))

	ctr, err := f.l.Counter("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(2), ctr)
	ctr, err = f.l.Counter("bob")
	require.NoError(t, err)
	require.Equal(t, uint64(0), ctr)
}

func TestLedger_Time(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	f.clock.Advance(time.Minute)
	rcpt, err := f.l.Execute(lottery.Call{}, func(*Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, start.Add(time.Minute), rcpt.Time)

	// A clock going backwards does not move ledger time.
	f.clock.Set(start)
	rcpt, err = f.l.Execute(lottery.Call{}, func(*Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, start.Add(time.Minute), rcpt.Time)
	require.NoError(t, f.l.View(func(tx *Tx) error {
		require.Equal(t, start.Add(time.Minute), tx.Now())
		return nil
	}))
}

func TestLedger_Requests(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	var ids []lottery.RequestID
	for i := 1; i <= 3; i++ {
		_, err := f.l.Execute(lottery.Call{}, func(tx *Tx) error {
			id, err := tx.SubmitRequest(lottery.RoundID(i))
			ids = append(ids, id)
			return err
		})
		require.NoError(t, err)
	}
	require.NotEqual(t, ids[0], ids[1])

	_, err := f.l.Execute(lottery.Call{}, func(tx *Tx) error {
		return tx.MarkRequest(ids[1], RequestRejected, nil)
	})
	require.NoError(t, err)
	_, err = f.l.Execute(lottery.Call{}, func(tx *Tx) error {
		return tx.MarkRequest(ids[1], RequestFulfilled, nil)
	})
	require.Error(t, err)

	reqs, err := f.l.PendingRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, ids[0], reqs[0].ID)
	require.Equal(t, ids[2], reqs[1].ID)

	_, err = f.l.Request("missing")
	require.True(t, xerrors.Is(err, ErrUnknownRequest))
	require.NoError(t, f.l.View(func(tx *Tx) error {
		_, err := tx.RoundForRequest("missing")
		require.True(t, xerrors.Is(err, lottery.ErrNotFound))
		return nil
	}))
}
