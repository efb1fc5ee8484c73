package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Secrets may live in a local .env during development; absence is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
