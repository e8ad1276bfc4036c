package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3/darc"
)

func TestSigner(t *testing.T) {
	s := darc.NewSignerEd25519(nil, nil)
	str, err := SignerToString(s)
	require.NoError(t, err)
	s2, err := StringToSigner(str)
	require.NoError(t, err)
	require.Equal(t, s.Identity().String(), s2.Identity().String())

	msg := []byte("message")
	sig, err := s2.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, s.Identity().Verify(msg, sig))

	_, err = StringToSigner("not hex")
	require.Error(t, err)
}

func TestHashProtobuf(t *testing.T) {
	type msg struct {
		A uint64
		B string
	}
	h1, err := HashProtobuf("a", &msg{A: 1, B: "x"})
	require.NoError(t, err)
	h2, err := HashProtobuf("b", &msg{A: 1, B: "x"})
	require.NoError(t, err)
	h3, err := HashProtobuf("a", &msg{A: 2, B: "x"})
	require.NoError(t, err)
	require.Len(t, h1, 32)
	require.NotEqual(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestReadRoster(t *testing.T) {
	dir, err := ioutil.TempDir("", "roster")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = ReadRoster(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, ioutil.WriteFile(empty, []byte(""), 0644))
	_, err = ReadRoster(empty)
	require.Error(t, err)
}
