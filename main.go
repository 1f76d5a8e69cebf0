package main

import (
	"os"

	"github.com/omnirelay/omnirelay/cmd/omnirelay"
)

func main() {
	if err := omnirelay.Execute(); err != nil {
		os.Exit(1)
	}
}
