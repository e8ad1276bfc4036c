package ledger

import (
	"encoding/binary"
	"time"

	"github.com/dedis/lottery/lottery"
	"github.com/google/uuid"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// Tx is the state of one ledger call. It implements lottery.State; every
// write goes to the underlying bbolt transaction and is discarded if the
// call fails.
type Tx struct {
	tx     *bbolt.Tx
	root   *bbolt.Bucket
	seq    uint64
	now    time.Time
	events []EventRecord
}

var _ lottery.State = (*Tx)(nil)

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (t *Tx) bucket(name []byte) *bbolt.Bucket {
	return t.root.Bucket(name)
}

// Seq returns the sequence number of the call.
func (t *Tx) Seq() uint64 {
	return t.seq
}

// Now implements lottery.State.
func (t *Tx) Now() time.Time {
	return t.now
}

// Round implements lottery.State.
func (t *Tx) Round(id lottery.RoundID) (*lottery.Round, error) {
	buf := t.bucket(bucketRounds).Get(itob(uint64(id)))
	if buf == nil {
		return nil, xerrors.Errorf("round %d: %w", id, lottery.ErrNotFound)
	}
	rnd := &lottery.Round{}
	if err := protobuf.Decode(buf, rnd); err != nil {
		return nil, xerrors.Errorf("couldn't decode round %d: %v", id, err)
	}
	return rnd, nil
}

// StoreRound implements lottery.State.
func (t *Tx) StoreRound(r *lottery.Round) error {
	buf, err := protobuf.Encode(r)
	if err != nil {
		return xerrors.Errorf("couldn't encode round %d: %v", r.ID, err)
	}
	return t.bucket(bucketRounds).Put(itob(uint64(r.ID)), buf)
}

// NextRoundID implements lottery.State. Identifiers come from the bucket
// sequence, so an aborted creation gives its identifier back.
func (t *Tx) NextRoundID() (lottery.RoundID, error) {
	id, err := t.bucket(bucketRounds).NextSequence()
	if err != nil {
		return 0, err
	}
	return lottery.RoundID(id), nil
}

// Rounds returns every stored round in identifier order.
func (t *Tx) Rounds() ([]*lottery.Round, error) {
	var rounds []*lottery.Round
	err := t.bucket(bucketRounds).ForEach(func(k, v []byte) error {
		rnd := &lottery.Round{}
		if err := protobuf.Decode(v, rnd); err != nil {
			return xerrors.Errorf("couldn't decode round %d: %v", btoi(k), err)
		}
		rounds = append(rounds, rnd)
		return nil
	})
	return rounds, err
}

// SubmitRequest implements lottery.Oracle by recording a pending request
// that the oracle dispatcher will pick up once the call commits.
func (t *Tx) SubmitRequest(tag lottery.RoundID) (lottery.RequestID, error) {
	req := &DrawRequest{
		ID:          lottery.RequestID(uuid.New().String()),
		Round:       tag,
		Status:      RequestPending,
		Seq:         t.seq,
		SubmittedAt: t.now.Unix(),
	}
	if err := t.putRequest(req); err != nil {
		return "", err
	}
	log.Lvlf3("draw request %s recorded for round %d", req.ID, tag)
	return req.ID, nil
}

// RoundForRequest implements lottery.State.
func (t *Tx) RoundForRequest(id lottery.RequestID) (lottery.RoundID, error) {
	req, err := t.Request(id)
	if err != nil {
		return 0, xerrors.Errorf("%v: %w", err, lottery.ErrNotFound)
	}
	return req.Round, nil
}

// Request returns the record of a draw request.
func (t *Tx) Request(id lottery.RequestID) (*DrawRequest, error) {
	buf := t.bucket(bucketRequests).Get([]byte(id))
	if buf == nil {
		return nil, xerrors.Errorf("request %s: %w", id, ErrUnknownRequest)
	}
	req := &DrawRequest{}
	if err := protobuf.Decode(buf, req); err != nil {
		return nil, xerrors.Errorf("couldn't decode request %s: %v", id, err)
	}
	return req, nil
}

// MarkRequest closes a pending request with the given status and proof.
func (t *Tx) MarkRequest(id lottery.RequestID, status string, proof []byte) error {
	req, err := t.Request(id)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return xerrors.Errorf("request %s is already %s", id, req.Status)
	}
	req.Status = status
	req.Proof = proof
	return t.putRequest(req)
}

func (t *Tx) putRequest(req *DrawRequest) error {
	buf, err := protobuf.Encode(req)
	if err != nil {
		return xerrors.Errorf("couldn't encode request %s: %v", req.ID, err)
	}
	return t.bucket(bucketRequests).Put([]byte(req.ID), buf)
}

// Balance returns the balance of an account. Unknown accounts hold zero.
func (t *Tx) Balance(id lottery.Identity) uint64 {
	return btoi(t.bucket(bucketAccounts).Get([]byte(id)))
}

func (t *Tx) setBalance(id lottery.Identity, v uint64) error {
	return t.bucket(bucketAccounts).Put([]byte(id), itob(v))
}

// Credit adds amount to an account.
func (t *Tx) Credit(id lottery.Identity, amount uint64) error {
	bal := t.Balance(id)
	if bal+amount < bal {
		return xerrors.Errorf("crediting %d to %s: %w", amount, id, ErrBalanceOverflow)
	}
	return t.setBalance(id, bal+amount)
}

// Transfer implements lottery.State.
func (t *Tx) Transfer(from, to lottery.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal := t.Balance(from)
	if bal < amount {
		return xerrors.Errorf("%s holds %d, needs %d: %w", from, bal, amount, ErrInsufficientFunds)
	}
	if err := t.setBalance(from, bal-amount); err != nil {
		return err
	}
	return t.Credit(to, amount)
}

// Counter returns the last signer counter used by id.
func (t *Tx) Counter(id lottery.Identity) uint64 {
	return btoi(t.bucket(bucketCounters).Get([]byte(id)))
}

// CheckCounter accepts ctr only if it is the successor of the last counter
// used by id, and records it.
func (t *Tx) CheckCounter(id lottery.Identity, ctr uint64) error {
	last := t.Counter(id)
	if ctr != last+1 {
		return xerrors.Errorf("got %d, expected %d: %w", ctr, last+1, ErrBadCounter)
	}
	return t.bucket(bucketCounters).Put([]byte(id), itob(ctr))
}

// Emit implements lottery.State.
func (t *Tx) Emit(ev *lottery.Event) error {
	b := t.bucket(bucketEvents)
	idx, err := b.NextSequence()
	if err != nil {
		return err
	}
	rec := EventRecord{Index: idx, Seq: t.seq, Time: t.now.Unix(), Event: *ev}
	buf, err := protobuf.Encode(&rec)
	if err != nil {
		return xerrors.Errorf("couldn't encode event: %v", err)
	}
	if err := b.Put(itob(idx), buf); err != nil {
		return err
	}
	t.events = append(t.events, rec)
	log.Lvlf4("event %d: %s round %d", idx, ev.Kind, ev.Round)
	return nil
}

// Meta returns a copy of a metadata value, or nil.
func (t *Tx) Meta(key string) []byte {
	v := t.bucket(bucketMeta).Get([]byte(key))
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

// PutMeta stores a metadata value.
func (t *Tx) PutMeta(key string, value []byte) error {
	return t.bucket(bucketMeta).Put([]byte(key), value)
}
