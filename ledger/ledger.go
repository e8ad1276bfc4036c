package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/dedis/lottery/lottery"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var defaultRoot = []byte("lottery")

// Ledger hosts the registry on a bbolt database. Every call runs in its
// own read-write transaction: either all of its writes are committed or
// none are.
type Ledger struct {
	sync.Mutex
	db        *bbolt.DB
	ownsDB    bool
	root      []byte
	custodian lottery.Identity
	clock     Clock
}

// Open opens (or creates) the database at path and returns a ledger using
// it. The database is closed by Close.
func Open(path string, cfg Config) (*Ledger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %v", path, err)
	}
	l, err := New(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// New returns a ledger storing its data under cfg.Root in db. The caller
// keeps ownership of db.
func New(db *bbolt.DB, cfg Config) (*Ledger, error) {
	l := &Ledger{
		db:        db,
		root:      cfg.Root,
		custodian: cfg.Custodian,
		clock:     cfg.Clock,
	}
	if len(l.root) == 0 {
		l.root = defaultRoot
	}
	if l.custodian == "" {
		l.custodian = lottery.DefaultConfig().Custodian
	}
	if l.clock == nil {
		l.clock = SystemClock{}
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(l.root)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketMeta, bucketRounds,
			bucketRequests, bucketAccounts, bucketCounters, bucketEvents} {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("creating buckets: %v", err)
	}
	return l, nil
}

// Close closes the database if the ledger opened it.
func (l *Ledger) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}

// Custodian returns the account holding the value of all calls.
func (l *Ledger) Custodian() lottery.Identity {
	return l.custodian
}

// SetClock replaces the clock of the ledger.
func (l *Ledger) SetClock(c Clock) {
	l.Lock()
	l.clock = c
	l.Unlock()
}

func (l *Ledger) now() time.Time {
	l.Lock()
	defer l.Unlock()
	return l.clock.Now()
}

func (l *Ledger) wrap(btx *bbolt.Tx) (*Tx, error) {
	root := btx.Bucket(l.root)
	if root == nil {
		return nil, xerrors.Errorf("missing bucket %s", l.root)
	}
	return &Tx{tx: btx, root: root}, nil
}

// Execute runs fn as the call described by c. The attached value moves
// from the caller to the custodian before fn runs. If fn, or anything
// else, fails, the call leaves no trace and the error is returned as is.
func (l *Ledger) Execute(c lottery.Call, fn func(*Tx) error) (*Receipt, error) {
	now := l.now()
	var rcpt *Receipt
	err := l.db.Update(func(btx *bbolt.Tx) error {
		t, err := l.wrap(btx)
		if err != nil {
			return err
		}
		meta := t.bucket(bucketMeta)
		t.seq, err = meta.NextSequence()
		if err != nil {
			return err
		}
		// Ledger time never goes backwards.
		last := int64(btoi(meta.Get(keyLastTime)))
		if now.Unix() < last {
			now = time.Unix(last, 0)
		}
		t.now = now
		if err := meta.Put(keyLastTime, itob(uint64(now.Unix()))); err != nil {
			return err
		}
		if err := t.Transfer(c.Caller, l.custodian, c.Value); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		rcpt = &Receipt{Seq: t.seq, Time: t.now, Events: t.events}
		return nil
	})
	if err != nil {
		log.Lvlf3("call from %s rolled back: %v", c.Caller, err)
		return nil, err
	}
	return rcpt, nil
}

// View runs fn against a read-only snapshot of the ledger.
func (l *Ledger) View(fn func(*Tx) error) error {
	now := l.now()
	return l.db.View(func(btx *bbolt.Tx) error {
		t, err := l.wrap(btx)
		if err != nil {
			return err
		}
		t.now = now
		if last := int64(btoi(t.bucket(bucketMeta).Get(keyLastTime))); now.Unix() < last {
			t.now = time.Unix(last, 0)
		}
		return fn(t)
	})
}

// Mint credits amount to id out of thin air. It is the faucet used by the
// command-line tool and by tests.
func (l *Ledger) Mint(id lottery.Identity, amount uint64) error {
	if id == "" {
		return xerrors.New("cannot mint to the null identity")
	}
	return l.db.Update(func(btx *bbolt.Tx) error {
		t, err := l.wrap(btx)
		if err != nil {
			return err
		}
		return t.Credit(id, amount)
	})
}

// Balance returns the balance of id.
func (l *Ledger) Balance(id lottery.Identity) (uint64, error) {
	var bal uint64
	err := l.View(func(t *Tx) error {
		bal = t.Balance(id)
		return nil
	})
	return bal, err
}

// Counter returns the last signer counter used by id.
func (l *Ledger) Counter(id lottery.Identity) (uint64, error) {
	var ctr uint64
	err := l.View(func(t *Tx) error {
		ctr = t.Counter(id)
		return nil
	})
	return ctr, err
}

// Request returns the record of the draw request id.
func (l *Ledger) Request(id lottery.RequestID) (*DrawRequest, error) {
	var req *DrawRequest
	err := l.View(func(t *Tx) (err error) {
		req, err = t.Request(id)
		return
	})
	return req, err
}

// Events returns the persisted events with an index of at least from.
func (l *Ledger) Events(from uint64) ([]EventRecord, error) {
	var evs []EventRecord
	err := l.View(func(t *Tx) error {
		c := t.bucket(bucketEvents).Cursor()
		for k, v := c.Seek(itob(from)); k != nil; k, v = c.Next() {
			var rec EventRecord
			if err := protobuf.Decode(v, &rec); err != nil {
				return xerrors.Errorf("couldn't decode event %d: %v", btoi(k), err)
			}
			evs = append(evs, rec)
		}
		return nil
	})
	return evs, err
}

// PendingRequests returns the draw requests not delivered yet, oldest
// first.
func (l *Ledger) PendingRequests() ([]*DrawRequest, error) {
	var reqs []*DrawRequest
	err := l.View(func(t *Tx) error {
		return t.bucket(bucketRequests).ForEach(func(k, v []byte) error {
			req := &DrawRequest{}
			if err := protobuf.Decode(v, req); err != nil {
				return xerrors.Errorf("couldn't decode request %s: %v", k, err)
			}
			if req.Status == RequestPending {
				reqs = append(reqs, req)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Seq != reqs[j].Seq {
			return reqs[i].Seq < reqs[j].Seq
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, nil
}
