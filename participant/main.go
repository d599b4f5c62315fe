// Command participant runs the capture flow on a participant's device: it
// follows the host's selection, counts down, snapshots the camera and saves
// the picture to the participant's record.
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
	"github.com/aryan-ct/memedin/pkg/camera"
	"github.com/aryan-ct/memedin/pkg/capture"
	"github.com/aryan-ct/memedin/pkg/records"
	sig "github.com/aryan-ct/memedin/pkg/signal"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	Server        string        `env:"MEMEDIN_SERVER"         envDefault:"ws://localhost:8080/ws"`
	ParticipantID string        `env:"MEMEDIN_PARTICIPANT_ID"`
	Device        string        `env:"MEMEDIN_CAMERA"         envDefault:"auto"`
	Width         int           `env:"MEMEDIN_CAMERA_WIDTH"   envDefault:"640"`
	Height        int           `env:"MEMEDIN_CAMERA_HEIGHT"  envDefault:"480"`
	FPS           int           `env:"MEMEDIN_CAMERA_FPS"     envDefault:"15"`
	Countdown     int           `env:"MEMEDIN_COUNTDOWN"      envDefault:"3"`
	Interval      time.Duration `env:"MEMEDIN_TICK"           envDefault:"1s"`
	Debug         bool          `env:"MEMEDIN_DEBUG"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "Relay websocket URL")
	flag.StringVar(&cfg.ParticipantID, "participant", cfg.ParticipantID, "Only follow this participant (kiosk mode)")
	flag.StringVar(&cfg.Device, "camera", cfg.Device, "Camera device path, \"auto\" or \"pattern\"")
	flag.IntVar(&cfg.Width, "width", cfg.Width, "Capture width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "Capture height")
	flag.IntVar(&cfg.FPS, "fps", cfg.FPS, "Capture frame rate")
	flag.IntVar(&cfg.Countdown, "countdown", cfg.Countdown, "Countdown start value")
	flag.DurationVar(&cfg.Interval, "tick", cfg.Interval, "Countdown tick interval")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opener, err := openerFor(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("No camera")
	}

	c := client.NewClient(cfg.Server, sig.RoleParticipant)
	c.ParticipantID = cfg.ParticipantID

	base, err := client.HTTPBase(cfg.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}

	machine := capture.New(capture.Config{
		Opener:    opener,
		Records:   records.NewClient(base),
		Publisher: relayPublisher{client: c},
		Countdown: cfg.Countdown,
		Interval:  cfg.Interval,
	})

	agent := NewAgent(c, machine, cfg.ParticipantID, os.Stdout)

	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to relay")
	}
	defer c.Disconnect()

	go agent.Run(ctx)
	go readCommands(ctx, agent, stop)

	select {
	case <-ctx.Done():
	case <-c.Done():
		log.Warn().Msg("Relay connection closed")
		stop()
	}

	machine.Deactivate()
}

// openerFor picks the camera source. "auto" takes the first readable video
// device and falls back to the test pattern.
func openerFor(ctx context.Context, cfg config) (camera.Opener, error) {
	pattern := camera.PatternOpener{Width: cfg.Width, Height: cfg.Height}

	device := cfg.Device
	switch device {
	case "pattern":
		return pattern, nil
	case "auto", "":
		devices, err := camera.ScanDevices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			log.Warn().Msg("No video devices found, using test pattern")
			return pattern, nil
		}
		device = devices[0]
	}

	log.Info().Str("device", device).Msg("Using camera")
	return camera.FFmpegOpener{Device: device, Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS}, nil
}

func readCommands(ctx context.Context, agent *Agent, stop context.CancelFunc) {
	fmt.Println("Commands: arm, retry, commit, status, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		quit, err := agent.Command(ctx, scanner.Text())
		if err != nil {
			fmt.Println(err)
		}
		if quit {
			break
		}
	}
	stop()
}
