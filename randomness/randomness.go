// Package randomness implements a verifiable randomness beacon. Every output
// is a BLS signature over the round number, the previous output and a tag,
// so that outputs form a chain anyone holding the public key can check.
package randomness

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

const genesisMsg = "genesis_msg"

var suite = pairing.NewSuiteBn256()

// Randomness is one output of the beacon.
type Randomness struct {
	Round uint64
	// Prev is the value of the previous round, or the genesis message for
	// round 0.
	Prev []byte
	Tag  string
	// Value is the BLS signature. Use the hash of it!
	Value []byte
}

// Message returns the bytes signed for r.
func (r *Randomness) Message() []byte {
	return createMsg(r.Round, r.Prev, r.Tag)
}

func createMsg(round uint64, prev []byte, tag string) []byte {
	buf := make([]byte, 8, 8+len(prev)+len(tag))
	binary.LittleEndian.PutUint64(buf, round)
	buf = append(buf, prev...)
	return append(buf, tag...)
}

// Verify checks the signature of r against the public key of the beacon.
func (r *Randomness) Verify(public kyber.Point) error {
	if r.Round == 0 && string(r.Prev) != genesisMsg {
		return xerrors.New("round 0 must follow the genesis message")
	}
	if err := bls.Verify(suite, public, r.Message(), r.Value); err != nil {
		return xerrors.Errorf("invalid randomness for round %d: %v", r.Round, err)
	}
	return nil
}

// Follows reports whether r is the output directly after prev.
func (r *Randomness) Follows(prev *Randomness) bool {
	return r.Round == prev.Round+1 && string(r.Prev) == string(prev.Value)
}

// Uint64 returns the random number carried by r.
func (r *Randomness) Uint64() uint64 {
	h := sha256.Sum256(r.Value)
	return binary.LittleEndian.Uint64(h[:8])
}

// Hash identifies r.
func (r *Randomness) Hash() []byte {
	h := sha256.New()
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, r.Round)
	h.Write(b)
	h.Write(r.Prev)
	h.Write([]byte(r.Tag))
	h.Write(r.Value)
	return h.Sum(nil)
}

// Encode returns the wire form of r.
func (r *Randomness) Encode() ([]byte, error) {
	return protobuf.Encode(r)
}

// Decode parses the wire form of a Randomness.
func Decode(buf []byte) (*Randomness, error) {
	r := &Randomness{}
	if err := protobuf.Decode(buf, r); err != nil {
		return nil, xerrors.Errorf("couldn't decode randomness: %v", err)
	}
	return r, nil
}

// Head is the position of a beacon in its chain.
type Head struct {
	Round uint64
	Prev  []byte
}

// Beacon produces chained randomness with a single key.
type Beacon struct {
	sync.Mutex
	private kyber.Scalar
	public  kyber.Point
	head    Head
}

// NewBeacon returns a beacon with a fresh key, at the start of its chain.
func NewBeacon() *Beacon {
	private, public := bls.NewKeyPair(suite, random.New())
	return NewBeaconFromKey(private, public)
}

// NewBeaconFromKey returns a beacon signing with the given key pair, at the
// start of its chain.
func NewBeaconFromKey(private kyber.Scalar, public kyber.Point) *Beacon {
	return &Beacon{
		private: private,
		public:  public,
		head:    Head{Prev: []byte(genesisMsg)},
	}
}

// Public returns the key that verifies the outputs of b.
func (b *Beacon) Public() kyber.Point {
	return b.public
}

// Head returns the position of b in its chain.
func (b *Beacon) Head() Head {
	b.Lock()
	defer b.Unlock()
	return Head{Round: b.head.Round, Prev: append([]byte(nil), b.head.Prev...)}
}

// Restore moves b to a head previously returned by Head.
func (b *Beacon) Restore(h Head) error {
	if len(h.Prev) == 0 {
		return xerrors.New("empty previous value")
	}
	b.Lock()
	b.head = Head{Round: h.Round, Prev: append([]byte(nil), h.Prev...)}
	b.Unlock()
	return nil
}

// Next signs the next output of the chain, bound to tag.
func (b *Beacon) Next(tag string) (*Randomness, error) {
	b.Lock()
	defer b.Unlock()
	r := &Randomness{Round: b.head.Round, Prev: b.head.Prev, Tag: tag}
	sig, err := bls.Sign(suite, b.private, r.Message())
	if err != nil {
		return nil, xerrors.Errorf("signing round %d: %v", r.Round, err)
	}
	r.Value = sig
	b.head = Head{Round: r.Round + 1, Prev: sig}
	log.Lvlf3("beacon round %d for %s", r.Round, tag)
	return r, nil
}

// EncodeHead returns the wire form of h.
func EncodeHead(h Head) ([]byte, error) {
	return protobuf.Encode(&h)
}

// DecodeHead parses the wire form of a Head.
func DecodeHead(buf []byte) (Head, error) {
	var h Head
	if err := protobuf.Decode(buf, &h); err != nil {
		return h, xerrors.Errorf("couldn't decode beacon head: %v", err)
	}
	return h, nil
}

// PrivateToString returns the hex form of a private key.
func PrivateToString(s kyber.Scalar) (string, error) {
	return encoding.ScalarToStringHex(suite.G2(), s)
}

// StringToPrivate parses the hex form of a private key.
func StringToPrivate(str string) (kyber.Scalar, error) {
	s, err := encoding.StringHexToScalar(suite.G2(), str)
	if err != nil {
		return nil, xerrors.Errorf("couldn't parse private key: %v", err)
	}
	return s, nil
}

// PublicToString returns the hex form of a public key.
func PublicToString(p kyber.Point) (string, error) {
	return encoding.PointToStringHex(suite.G2(), p)
}

// StringToPublic parses the hex form of a public key.
func StringToPublic(str string) (kyber.Point, error) {
	p, err := encoding.StringHexToPoint(suite.G2(), str)
	if err != nil {
		return nil, xerrors.Errorf("couldn't parse public key: %v", err)
	}
	return p, nil
}

// PublicFromPrivate derives the public key of a private key.
func PublicFromPrivate(s kyber.Scalar) kyber.Point {
	return suite.G2().Point().Mul(s, nil)
}

// NewKeyPair returns a fresh beacon key pair.
func NewKeyPair() (kyber.Scalar, kyber.Point) {
	return bls.NewKeyPair(suite, random.New())
}
