// Package oracle delivers beacon randomness to the draw requests recorded
// by the ledger.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/dedis/lottery/ledger"
	"github.com/dedis/lottery/lottery"
	"github.com/dedis/lottery/randomness"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// MetaBeaconHead is the ledger metadata key holding the beacon head.
const MetaBeaconHead = "beacon_head"

// Dispatcher answers pending draw requests in the name of the oracle
// identity.
type Dispatcher struct {
	Ledger   *ledger.Ledger
	Registry *lottery.Registry
	Beacon   *randomness.Beacon
	Identity lottery.Identity

	// serializes deliveries so that beacon outputs are committed in order
	sync.Mutex
}

// NewDispatcher returns a dispatcher whose beacon continues the chain
// persisted in l, if any.
func NewDispatcher(l *ledger.Ledger, reg *lottery.Registry, b *randomness.Beacon) (*Dispatcher, error) {
	d := &Dispatcher{
		Ledger:   l,
		Registry: reg,
		Beacon:   b,
		Identity: reg.Config().Oracle,
	}
	var buf []byte
	err := l.View(func(tx *ledger.Tx) error {
		buf = tx.Meta(MetaBeaconHead)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return d, nil
	}
	head, err := randomness.DecodeHead(buf)
	if err != nil {
		return nil, err
	}
	if err := b.Restore(head); err != nil {
		return nil, err
	}
	log.Lvlf2("beacon restored at round %d", head.Round)
	return d, nil
}

// DispatchOnce answers every pending request and returns how many were
// fulfilled. Requests the registry rejects are marked as such and are not
// retried.
func (d *Dispatcher) DispatchOnce() (int, error) {
	reqs, err := d.Ledger.PendingRequests()
	if err != nil {
		return 0, xerrors.Errorf("listing pending requests: %v", err)
	}
	n := 0
	for _, req := range reqs {
		err := d.dispatch(req)
		if err == nil {
			n++
			continue
		}
		if lottery.Code(err) == "" {
			return n, err
		}
		log.Warnf("draw request %s rejected: %v", req.ID, err)
	}
	return n, nil
}

func (d *Dispatcher) dispatch(req *ledger.DrawRequest) error {
	d.Lock()
	defer d.Unlock()
	head := d.Beacon.Head()
	r, err := d.Beacon.Next(string(req.ID))
	if err != nil {
		return err
	}
	err = d.deliver(req.ID, r)
	if err != nil && lottery.Code(err) == "" {
		// Nothing was committed: the output can be signed again.
		if rerr := d.Beacon.Restore(head); rerr != nil {
			log.Error(rerr)
		}
	}
	return err
}

// Deliver fulfills the request named by the tag of r. r must verify
// against the public key of the beacon of d.
func (d *Dispatcher) Deliver(r *randomness.Randomness) error {
	if err := r.Verify(d.Beacon.Public()); err != nil {
		return xerrors.Errorf("%v: %w", err, lottery.ErrUnauthorized)
	}
	d.Lock()
	defer d.Unlock()
	return d.deliver(lottery.RequestID(r.Tag), r)
}

// deliver runs the oracle callback and closes the request in the same
// call. If the registry refuses the callback, the request is marked as
// rejected in a call of its own and the refusal is returned.
func (d *Dispatcher) deliver(id lottery.RequestID, r *randomness.Randomness) error {
	proof, err := r.Encode()
	if err != nil {
		return xerrors.Errorf("couldn't encode randomness: %v", err)
	}
	head, err := randomness.EncodeHead(d.Beacon.Head())
	if err != nil {
		return err
	}
	call := lottery.Call{Caller: d.Identity}
	_, err = d.Ledger.Execute(call, func(tx *ledger.Tx) error {
		if err := d.Registry.FulfillDraw(tx, call, id, r.Uint64()); err != nil {
			return err
		}
		if err := tx.MarkRequest(id, ledger.RequestFulfilled, proof); err != nil {
			return err
		}
		return tx.PutMeta(MetaBeaconHead, head)
	})
	if err == nil {
		log.Lvlf2("draw request %s fulfilled with beacon round %d", id, r.Round)
		return nil
	}
	if lottery.Code(err) == "" {
		return err
	}
	_, merr := d.Ledger.Execute(call, func(tx *ledger.Tx) error {
		if err := tx.MarkRequest(id, ledger.RequestRejected, proof); err != nil {
			return err
		}
		return tx.PutMeta(MetaBeaconHead, head)
	})
	if merr != nil {
		log.Warnf("couldn't mark request %s as rejected: %v", id, merr)
	}
	return err
}

// Start runs DispatchOnce every interval until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := d.DispatchOnce()
				if err != nil {
					log.Warnf("dispatching draw requests: %v", err)
					continue
				}
				if n > 0 {
					log.Lvlf3("dispatched %d draw requests", n)
				}
			}
		}
	}()
}
