// Command host drives a capture session: it lists participants, selects who
// is live, asks their device to take the picture and watches the preview.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aryan-ct/memedin/client"
	"github.com/aryan-ct/memedin/pkg/records"
	sig "github.com/aryan-ct/memedin/pkg/signal"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	Server string        `env:"MEMEDIN_SERVER" envDefault:"ws://localhost:8080/ws"`
	Settle time.Duration `env:"MEMEDIN_SETTLE" envDefault:"500ms"`
	Debug  bool          `env:"MEMEDIN_DEBUG"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "Relay websocket URL")
	flag.DurationVar(&cfg.Settle, "settle", cfg.Settle, "Delay before re-reading a record after a picture is saved")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := client.HTTPBase(cfg.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}

	c := client.NewClient(cfg.Server, sig.RoleHost)
	console := NewConsole(c, records.NewClient(base), cfg.Settle, os.Stdout)
	defer console.Close()

	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to relay")
	}
	defer c.Disconnect()

	go func() {
		fmt.Println("Commands: list, select <id>, clear, capture, reset <id>, quit")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			quit, err := console.Command(ctx, scanner.Text())
			if err != nil {
				fmt.Println(err)
			}
			if quit {
				break
			}
		}
		stop()
	}()

	select {
	case <-ctx.Done():
	case <-c.Done():
		log.Warn().Msg("Relay connection closed")
	}
}
