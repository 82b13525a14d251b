package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/relayctl/internal/app"
	"github.com/danmuck/relayctl/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "path to relayctl.toml; defaults apply when empty")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := app.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}
