package main

import (
	"os"

	"github.com/dedis/lottery/registry"
	"go.dedis.ch/onet/v3/simul"
)

func main() {
	// Participants are funded through mint instructions.
	os.Setenv(registry.FaucetEnv, "1")
	simul.Start()
}
