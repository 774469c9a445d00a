// murmurd is the standalone daemon binary. It runs the same loop as
// `murmur daemon` for deployments that manage the process themselves
// (systemd units, supervisors).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"murmur/internal/config"
	"murmur/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		if errors.Is(err, daemonrun.ErrAlreadyRunning) {
			log.Print("murmurd is already running")
			os.Exit(1)
		}
		log.Fatalf("murmurd: %v", err)
	}
}
