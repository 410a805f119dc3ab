package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/grouptrack/internal/config"
	"github.com/matheus3301/grouptrack/internal/daemon"
	"github.com/matheus3301/grouptrack/internal/tenant"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default: <data dir>/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = tenant.ConfigPath(tenant.BaseDir())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
