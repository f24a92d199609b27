package main

import (
	"fmt"
	"os"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/cli"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("Panic recovered", "panic", r)
			} else {
				fmt.Fprintf(os.Stderr, "Panic recovered: %v\n", r)
			}
			os.Exit(1)
		}
	}()

	cli.Execute()
}

// Personal.AI order the ending
