package main

import (
	"log"

	"github.com/nemanja-m/fanout/internal/cli"

	_ "github.com/nemanja-m/fanout/examples/filetree"
	_ "github.com/nemanja-m/fanout/examples/tree"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := cli.NewRootCmd().Execute(); err != nil {
		log.Fatalf("fanout: %v", err)
	}
}
