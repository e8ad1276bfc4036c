package oracle

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/randomness"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var start = time.Unix(1600000000, 0)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type env struct {
	dir   string
	clock *ledger.ManualClock
	l     *ledger.Ledger
	reg   *lottery.Registry
}

func newEnv(t *testing.T) *env {
	dir, err := ioutil.TempDir("", "oracle")
	require.NoError(t, err)
	e := &env{dir: dir, clock: ledger.NewManualClock(start)}
	e.l, err = ledger.Open(filepath.Join(dir, "db"), ledger.Config{Clock: e.clock})
	require.NoError(t, err)
	e.reg = lottery.NewRegistry(lottery.DefaultConfig())
	require.NoError(t, e.l.Mint("alice", 1000))
	require.NoError(t, e.l.Mint("bob", 1000))
	return e
}

func (e *env) close() {
	e.l.Close()
	os.RemoveAll(e.dir)
}

func (e *env) exec(t *testing.T, c lottery.Call, fn func(*ledger.Tx) error) {
	_, err := e.l.Execute(c, fn)
	require.NoError(t, err)
}

// drawable sets up an expired round with tickets for alice and bob and
// requests its draw.
func (e *env) drawable(t *testing.T) (lottery.RoundID, lottery.RequestID) {
	op := lottery.Call{Caller: "op"}
	var id lottery.RoundID
	e.exec(t, op, func(tx *ledger.Tx) (err error) {
		id, err = e.reg.CreateRound(tx, op, lottery.RoundParams{
			Operator:          "op",
			TicketPrice:       5,
			MaxTickets:        10,
			CommissionPercent: 20,
			Expiration:        e.clock.Now().Add(time.Hour).Unix(),
		})
		return
	})
	for _, who := range []lottery.Identity{"alice", "bob"} {
		c := lottery.Call{Caller: who, Value: 15}
		e.exec(t, c, func(tx *ledger.Tx) error {
			return e.reg.BuyTickets(tx, c, id, 3)
		})
	}
	e.clock.Advance(2 * time.Hour)
	var req lottery.RequestID
	e.exec(t, op, func(tx *ledger.Tx) (err error) {
		req, err = e.reg.RequestDraw(tx, op, id)
		return
	})
	return id, req
}

func (e *env) round(t *testing.T, id lottery.RoundID) *lottery.Round {
	var rnd *lottery.Round
	require.NoError(t, e.l.View(func(tx *ledger.Tx) (err error) {
		rnd, err = tx.Round(id)
		return
	}))
	return rnd
}

func TestDispatcher_DispatchOnce(t *testing.T) {
	e := newEnv(t)
	defer e.close()

	b := randomness.NewBeacon()
	d, err := NewDispatcher(e.l, e.reg, b)
	require.NoError(t, err)

	n, err := d.DispatchOnce()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	id, req := e.drawable(t)
	n, err = d.DispatchOnce()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	r, err := e.l.Request(req)
	require.NoError(t, err)
	require.Equal(t, ledger.RequestFulfilled, r.Status)
	proof, err := randomness.Decode(r.Proof)
	require.NoError(t, err)
	require.NoError(t, proof.Verify(b.Public()))
	require.Equal(t, string(req), proof.Tag)

	rnd := e.round(t, id)
	require.Equal(t, proof.Uint64()%6, rnd.WinningIndex)
	owner, ok := rnd.Owner(rnd.WinningIndex)
	require.True(t, ok)
	require.Equal(t, owner, rnd.Winner)

	// Nothing left to do.
	n, err = d.DispatchOnce()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDispatcher_Rejected(t *testing.T) {
	e := newEnv(t)
	defer e.close()

	d, err := NewDispatcher(e.l, e.reg, randomness.NewBeacon())
	require.NoError(t, err)

	id, req := e.drawable(t)
	e.clock.Advance(25 * time.Hour)
	op := lottery.Call{Caller: "op"}
	e.exec(t, op, func(tx *ledger.Tx) error {
		return e.reg.CancelDraw(tx, op, id)
	})

	n, err := d.DispatchOnce()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	r, err := e.l.Request(req)
	require.NoError(t, err)
	require.Equal(t, ledger.RequestRejected, r.Status)
	require.Equal(t, lottery.Identity(""), e.round(t, id).Winner)

	// A new request is served normally.
	var req2 lottery.RequestID
	e.exec(t, op, func(tx *ledger.Tx) (err error) {
		req2, err = e.reg.RequestDraw(tx, op, id)
		return
	})
	require.NotEqual(t, req, req2)
	n, err = d.DispatchOnce()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotEqual(t, lottery.Identity(""), e.round(t, id).Winner)
}

func TestDispatcher_Restore(t *testing.T) {
	e := newEnv(t)
	defer e.close()

	priv, pub := randomness.NewKeyPair()
	d, err := NewDispatcher(e.l, e.reg, randomness.NewBeaconFromKey(priv, pub))
	require.NoError(t, err)
	e.drawable(t)
	_, err = d.DispatchOnce()
	require.NoError(t, err)

	b := randomness.NewBeaconFromKey(priv, pub)
	_, err = NewDispatcher(e.l, e.reg, b)
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.Head().Round)
	require.Equal(t, d.Beacon.Head(), b.Head())
}

func TestDispatcher_Deliver(t *testing.T) {
	e := newEnv(t)
	defer e.close()

	b := randomness.NewBeacon()
	d, err := NewDispatcher(e.l, e.reg, b)
	require.NoError(t, err)
	id, req := e.drawable(t)

	forged, err := randomness.NewBeacon().Next(string(req))
	require.NoError(t, err)
	err = d.Deliver(forged)
	require.True(t, xerrors.Is(err, lottery.ErrUnauthorized))

	r, err := b.Next(string(req))
	require.NoError(t, err)
	require.NoError(t, d.Deliver(r))
	require.Equal(t, r.Uint64()%6, e.round(t, id).WinningIndex)

	err = d.Deliver(r)
	require.True(t, xerrors.Is(err, lottery.ErrAlreadyDone))
}

func TestDispatcher_Start(t *testing.T) {
	e := newEnv(t)
	defer e.close()

	d, err := NewDispatcher(e.l, e.reg, randomness.NewBeacon())
	require.NoError(t, err)
	id, _ := e.drawable(t)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	d.Start(ctx, wg, 10*time.Millisecond)
	for i := 0; i < 500 && e.round(t, id).Winner == ""; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEqual(t, lottery.Identity(""), e.round(t, id).Winner)
	cancel()
	wg.Wait()
}
