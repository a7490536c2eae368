package main

import (
	"flag"
	"log"
	"os"

	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/tui"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "application config file (default: search reflow.json, .reflow.json, ~/.config/reflow/config.json)")
	flag.Parse()

	// Only create debug log in dev builds
	if version == "dev" {
		f, err := os.OpenFile("debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			log.SetOutput(f)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := tui.Run(version, cfg); err != nil {
		log.Fatal(err)
	}
}
