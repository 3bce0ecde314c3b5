package main

import (
	"context"
	"os"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
