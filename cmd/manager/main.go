// Command manager runs the authoritative Manager service: vehicle
// physics, state broadcast, heartbeat and estop handling over a WebRTC
// session. The --transport setting is parsed and validated but does not
// change the session type.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"teleop-go/internal/conductor"
	"teleop-go/internal/config"
	"teleop-go/internal/connmanager"
	"teleop-go/internal/logging"
	"teleop-go/internal/statelog"
	"teleop-go/internal/transport"
	"teleop-go/internal/transport/webrtc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "manager:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadManager(os.Args[1:])
	if err != nil {
		return err
	}

	base := logging.New(cfg.LogFormat, cfg.LogLevel)
	log := logging.Component(base, "manager")

	var stateLog *statelog.Writer
	if cfg.StateLogPath != "" {
		stateLog, err = statelog.Open(cfg.StateLogPath)
		if err != nil {
			return err
		}
		defer stateLog.Close()
	}

	tcfg := transport.Config{
		Type:          cfg.TransportType,
		SignalingURLs: cfg.SignalingURLs,
		ChannelID:     cfg.ChannelID,
		Metadata:      cfg.Metadata,
		CtrlLabel:     cfg.CtrlLabel,
		MQTTHost:      cfg.MQTTHost,
		MQTTPort:      cfg.MQTTPort,
		MQTTCtrlTopic: cfg.MQTTCtrlTopic,
		MQTTUsername:  cfg.MQTTUsername,
		MQTTPassword:  cfg.MQTTPassword,
	}

	newSession := connmanager.SessionFactory(func() connmanager.Session {
		return webrtc.NewManagerSession(tcfg, cfg.StateLabel)
	})

	c := conductor.New(log, cfg.CtrlLabel, cfg.StateLabel, newSession)
	if stateLog != nil {
		c.SetStateLogWriter(stateLog)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("manager starting", "transport", cfg.TransportType, "ctrl_label", cfg.CtrlLabel, "state_label", cfg.StateLabel)
	c.Start(ctx)
	if cfg.EstopOnStart {
		log.Warn("estop latched on startup")
		c.TriggerEstop()
	}
	c.WaitForever(ctx)

	log.Info("manager stopped")
	return nil
}
