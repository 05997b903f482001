// Command bridge runs the Raspberry Pi Bridge: it consumes Manager state
// payloads over a pluggable transport, converts the last control command
// into a velocity tick, and publishes it to a motion-stack sink, backed
// by a command-timeout watchdog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teleop-go/internal/bridge/convert"
	"teleop-go/internal/bridge/subscriber"
	"teleop-go/internal/bridge/velocity"
	"teleop-go/internal/config"
	"teleop-go/internal/logging"
	"teleop-go/internal/transport"
	_ "teleop-go/internal/transport/mqtt"
	_ "teleop-go/internal/transport/webrtc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadBridge(os.Args[1:])
	if err != nil {
		return err
	}

	base := logging.New(cfg.LogFormat, cfg.LogLevel)
	log := logging.Component(base, "bridge")

	conv := convert.Converter{
		MaxLinearSpeed:  cfg.MaxLinearSpeed,
		MaxAngularSpeed: cfg.MaxAngularSpeed,
		BrakeThreshold:  cfg.BrakeThreshold,
	}
	sink := velocity.NewLoggingSink(logging.Component(base, "bridge:cmdvel"), cfg.CmdVelTopic)
	if err := sink.Start(); err != nil {
		return err
	}
	defer sink.Stop()

	sub := subscriber.New(logging.Component(base, "bridge:subscriber"), sink, conv, time.Duration(cfg.CommandTimeoutS*float64(time.Second)))

	t, err := transport.New(transport.Config{
		Type:          cfg.TransportType,
		SignalingURLs: cfg.SignalingURLs,
		ChannelID:     cfg.ChannelID,
		CtrlLabel:     cfg.CtrlLabel,
		MQTTHost:      cfg.MQTTHost,
		MQTTPort:      cfg.MQTTPort,
		MQTTCtrlTopic: cfg.MQTTCtrlTopic,
		MQTTUsername:  cfg.MQTTUsername,
		MQTTPassword:  cfg.MQTTPassword,
	})
	if err != nil {
		return err
	}
	t.OnCtrl(sub.ProcessCtrlPayload)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sub.Run(ctx)

	log.Info("bridge connecting", "transport", cfg.TransportType, "ctrl_label", cfg.CtrlLabel)
	if err := connectWithRetry(ctx, t, log); err != nil {
		return err
	}
	defer t.Close()

	<-ctx.Done()
	log.Info("bridge stopping")
	return nil
}

func connectWithRetry(ctx context.Context, t transport.Transport, log *slog.Logger) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := t.Connect(connectCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("connect failed; retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
