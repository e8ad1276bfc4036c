package utils

import (
	"crypto/sha256"
	"os"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// HashProtobuf returns sha256(prefix || protobuf(v)).
func HashProtobuf(prefix string, v interface{}) ([]byte, error) {
	data, err := protobuf.Encode(v)
	if err != nil {
		log.Errorf("protobuf encode failed: %v", err)
		return nil, err
	}
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(data)
	return h.Sum(nil), nil
}

// ReadRoster reads the roster of a group definition file.
func ReadRoster(path string) (*onet.Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	defer file.Close()

	group, err := app.ReadGroupDescToml(file)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	if group.Roster == nil || len(group.Roster.List) == 0 {
		return nil, xerrors.Errorf("empty roster in %s", path)
	}
	return group.Roster, nil
}

// SignerToString returns the hex-encoded secret of an ed25519 signer.
func SignerToString(s darc.Signer) (string, error) {
	if s.Ed25519 == nil {
		return "", xerrors.New("not an ed25519 signer")
	}
	return encoding.ScalarToStringHex(cothority.Suite, s.Ed25519.Secret)
}

// StringToSigner rebuilds the ed25519 signer whose secret is str.
func StringToSigner(str string) (darc.Signer, error) {
	secret, err := encoding.StringHexToScalar(cothority.Suite, str)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("couldn't parse signer secret: %v", err)
	}
	point := cothority.Suite.Point().Mul(secret, nil)
	return darc.NewSignerEd25519(point, secret), nil
}
