// cdrive - encrypted cloud drive client
//
// Build with:
//
//	go build -ldflags "-X github.com/cryptdrive/cdrive/internal/version.Version=$(git describe --tags)" ./cmd/cdrive
package main

import (
	"os"

	"github.com/cryptdrive/cdrive/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
