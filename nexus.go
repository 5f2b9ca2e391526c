package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/nexus/cmd/nexus"
	"github.com/neboloop/nexus/internal/config"
)

//go:embed etc/nexus.yaml
var embeddedConfig []byte

// version is stamped with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load embedded config: %v\n", err)
		os.Exit(1)
	}

	// Per-user overrides in <data_dir>/config.yaml
	if err := c.MergeFile(c.UserConfigPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", c.UserConfigPath(), err)
		os.Exit(1)
	}

	cli.Version = version
	root := cli.SetupRootCmd(&c)
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		if !errors.Is(err, cli.ErrReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
