// Package main prints an identity secret, or a signed device token when
// -uid is given.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/questparty/internal/platform/config"
	"github.com/louisbranch/questparty/internal/tools/partytoken"
)

func main() {
	cfg, err := partytoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := partytoken.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("partytoken: %v", err)
	}
}
