package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/koying/jellyfin-ha/internal"
	"github.com/koying/jellyfin-ha/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

// main is the entry point to the bridge. The user configuration is
// loaded from the path given by -config, defaulting to a file inside
// the users home config directory.
func main() {
	home, err := homedir.Dir()
	if err != nil {
		log.Emit(logger.FATAL, "Failed to determine user home directory: %v\n", err)
		return
	}

	configPath := flag.String("config", filepath.Join(home, ".config", "jellyfin-ha", "config.yaml"), "path to the YAML configuration file")
	flag.Parse()

	config := internal.BridgeConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge := internal.New(config)
	if err := bridge.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Bridge exited with error: %v\n", err)
		return
	}

	log.Emit(logger.STOP, "Bridge shutdown complete\n")
}
