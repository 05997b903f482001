// Package config loads Manager and Bridge configuration with
// flag > env > .env file > default precedence (A1). The .env search
// order and loader are grounded on original_source/rpi/state_recv.py's
// _load_env, adapted to github.com/joho/godotenv.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFile searches, in order: an explicit path, the current working
// directory, the repo root (one level above the binary's directory), a
// "ui/.env" under the repo root, and the binary's own directory. The
// first file found is loaded; if none exist, godotenv.Load() is still
// attempted against the process's own .env in cwd and its absence is not
// an error.
func LoadEnvFile(explicit string) string {
	var candidates []string
	if explicit != "" {
		if abs, err := filepath.Abs(explicit); err == nil {
			candidates = append(candidates, abs)
		}
	}

	cwd, _ := os.Getwd()
	exe, _ := os.Executable()
	exeDir := filepath.Dir(exe)
	repoRoot := filepath.Dir(exeDir)

	candidates = append(candidates,
		filepath.Join(cwd, ".env"),
		filepath.Join(repoRoot, ".env"),
		filepath.Join(repoRoot, "ui", ".env"),
		filepath.Join(exeDir, ".env"),
	)

	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			_ = godotenv.Load(c)
			return c
		}
	}
	_ = godotenv.Load()
	return ""
}

// ManagerConfig is everything the Manager binary needs to start (§6).
type ManagerConfig struct {
	TransportType string
	SignalingURLs []string
	ChannelID     string
	Metadata      map[string]any
	CtrlLabel     string
	StateLabel    string

	MQTTHost      string
	MQTTPort      int
	MQTTCtrlTopic string
	MQTTUsername  string
	MQTTPassword  string

	// BreakerThreshold and BreakerCooldown are parsed but not passed on:
	// connmanager trips its breaker after its own fixed 5 consecutive
	// failures and cools down for a fixed 30 s, whatever these hold.
	BreakerThreshold uint
	BreakerCooldown  int // seconds

	EstopOnStart bool

	StateLogPath string
	LogFormat    string // "text" or "json"
	LogLevel     string
}

// BridgeConfig is everything the Bridge binary needs to start (§6).
type BridgeConfig struct {
	TransportType string
	SignalingURLs []string
	ChannelID     string
	CtrlLabel     string

	MQTTHost      string
	MQTTPort      int
	MQTTCtrlTopic string
	MQTTUsername  string
	MQTTPassword  string

	MaxLinearSpeed  float64
	MaxAngularSpeed float64
	BrakeThreshold  float64
	CommandTimeoutS float64

	CmdVelTopic string
	LogFormat   string
	LogLevel    string
}

func str(flagVal, envKey, def string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return def
}

func i(flagVal int, envKey string, def int) int {
	if flagVal != 0 {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func f(flagVal float64, envKey string, def float64) float64 {
	if flagVal != 0 {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func csv(flagVal, envKey, def string) []string {
	v := str(flagVal, envKey, def)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadManager parses CLI args with flag > env > .env > default
// precedence for the Manager binary.
func LoadManager(args []string) (*ManagerConfig, error) {
	LoadEnvFile(envFileFromArgs(args))

	fs := flag.NewFlagSet("manager", flag.ContinueOnError)
	transportType := fs.String("transport", "", "transport type: webrtc or mqtt")
	signaling := fs.String("signaling-urls", "", "comma-separated signaling websocket URLs")
	channelID := fs.String("channel-id", "", "WebRTC channel id")
	room := fs.String("room", "", "signaling room / channel id")
	password := fs.String("password", "", "opaque password injected into the signaling metadata")
	ctrlLabel := fs.String("ctrl-label", "", "ctrl data-channel label")
	stateLabel := fs.String("state-label", "", "state data-channel label")
	mqttHost := fs.String("mqtt-host", "", "MQTT broker host")
	mqttPort := fs.Int("mqtt-port", 0, "MQTT broker port")
	mqttTopic := fs.String("mqtt-ctrl-topic", "", "MQTT ctrl topic")
	mqttUser := fs.String("mqtt-username", "", "MQTT username")
	mqttPass := fs.String("mqtt-password", "", "MQTT password")
	breakerThreshold := fs.Uint("breaker-threshold", 0, "consecutive reconnect failures before the breaker trips")
	breakerCooldown := fs.Int("breaker-cooldown", 0, "breaker cooldown, seconds")
	estop := fs.Bool("estop", false, "latch the emergency stop immediately on startup")
	stateLog := fs.String("state-log", "", "path to append-only NDJSON state log; empty disables it")
	logFormat := fs.String("log-format", "", "text or json")
	logLevel := fs.String("log-level", "", "debug, info, warn, or error")
	_ = fs.String("env-file", "", "explicit .env path")
	_ = fs.String("dotenv", "", "explicit .env path (alias of --env-file)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	channel := *room
	if channel == "" {
		channel = *channelID
	}

	var metadata map[string]any
	if *password != "" {
		metadata = map[string]any{"password": *password}
	}

	cfg := &ManagerConfig{
		TransportType:    str(*transportType, "TELEOP_TRANSPORT", "webrtc"),
		SignalingURLs:    csv(*signaling, "TELEOP_SIGNALING_URLS", ""),
		ChannelID:        str(channel, "TELEOP_CHANNEL_ID", ""),
		Metadata:         metadata,
		CtrlLabel:        str(*ctrlLabel, "TELEOP_CTRL_LABEL", "#ctrl"),
		StateLabel:       str(*stateLabel, "TELEOP_STATE_LABEL", "#state"),
		MQTTHost:         str(*mqttHost, "TELEOP_MQTT_HOST", ""),
		MQTTPort:         i(*mqttPort, "TELEOP_MQTT_PORT", 1883),
		MQTTCtrlTopic:    str(*mqttTopic, "TELEOP_MQTT_CTRL_TOPIC", "aframe/ctrl"),
		MQTTUsername:     str(*mqttUser, "TELEOP_MQTT_USERNAME", ""),
		MQTTPassword:     str(*mqttPass, "TELEOP_MQTT_PASSWORD", ""),
		BreakerThreshold: uint(i(int(*breakerThreshold), "TELEOP_BREAKER_THRESHOLD", 5)),
		BreakerCooldown:  i(*breakerCooldown, "TELEOP_BREAKER_COOLDOWN", 30),
		EstopOnStart:     *estop,
		StateLogPath:     str(*stateLog, "TELEOP_STATE_LOG", ""),
		LogFormat:        str(*logFormat, "TELEOP_LOG_FORMAT", "text"),
		LogLevel:         str(*logLevel, "TELEOP_LOG_LEVEL", "info"),
	}

	if cfg.TransportType == "webrtc" && len(cfg.SignalingURLs) == 0 {
		return nil, fmt.Errorf("config: signaling-urls required for transport=webrtc")
	}
	if cfg.TransportType == "mqtt" && cfg.MQTTHost == "" {
		return nil, fmt.Errorf("config: mqtt-host required for transport=mqtt")
	}
	return cfg, nil
}

// LoadBridge parses CLI args with flag > env > .env > default
// precedence for the Bridge binary.
func LoadBridge(args []string) (*BridgeConfig, error) {
	LoadEnvFile(envFileFromArgs(args))

	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	transportType := fs.String("transport", "", "transport type: webrtc or mqtt")
	signaling := fs.String("signaling-urls", "", "comma-separated signaling websocket URLs")
	channelID := fs.String("channel-id", "", "WebRTC channel id")
	ctrlLabel := fs.String("ctrl-label", "", "ctrl data-channel label")
	mqttHost := fs.String("mqtt-host", "", "MQTT broker host")
	mqttPort := fs.Int("mqtt-port", 0, "MQTT broker port")
	mqttTopic := fs.String("mqtt-ctrl-topic", "", "MQTT ctrl topic")
	mqttUser := fs.String("mqtt-username", "", "MQTT username")
	mqttPass := fs.String("mqtt-password", "", "MQTT password")
	maxLinear := fs.Float64("max-linear-speed", 0, "m/s")
	maxAngular := fs.Float64("max-angular-speed", 0, "rad/s")
	brakeThreshold := fs.Float64("brake-threshold", 0, "0..1")
	cmdTimeout := fs.Float64("command-timeout", 0, "seconds")
	cmdVelTopic := fs.String("cmd-vel-topic", "", "motion-stack sink topic")
	logFormat := fs.String("log-format", "", "text or json")
	logLevel := fs.String("log-level", "", "debug, info, warn, or error")
	_ = fs.String("env-file", "", "explicit .env path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &BridgeConfig{
		TransportType:   str(*transportType, "TELEOP_TRANSPORT", "webrtc"),
		SignalingURLs:   csv(*signaling, "TELEOP_SIGNALING_URLS", ""),
		ChannelID:       str(*channelID, "TELEOP_CHANNEL_ID", ""),
		CtrlLabel:       str(*ctrlLabel, "TELEOP_CTRL_LABEL", "#ctrl"),
		MQTTHost:        str(*mqttHost, "TELEOP_MQTT_HOST", ""),
		MQTTPort:        i(*mqttPort, "TELEOP_MQTT_PORT", 1883),
		MQTTCtrlTopic:   str(*mqttTopic, "TELEOP_MQTT_CTRL_TOPIC", "aframe/ctrl"),
		MQTTUsername:    str(*mqttUser, "TELEOP_MQTT_USERNAME", ""),
		MQTTPassword:    str(*mqttPass, "TELEOP_MQTT_PASSWORD", ""),
		MaxLinearSpeed:  f(*maxLinear, "TELEOP_MAX_LINEAR_SPEED", 0.3),
		MaxAngularSpeed: f(*maxAngular, "TELEOP_MAX_ANGULAR_SPEED", -0.3),
		BrakeThreshold:  f(*brakeThreshold, "TELEOP_BRAKE_THRESHOLD", 0.1),
		CommandTimeoutS: f(*cmdTimeout, "TELEOP_COMMAND_TIMEOUT", 0.5),
		CmdVelTopic:     str(*cmdVelTopic, "TELEOP_CMD_VEL_TOPIC", "cmd_vel"),
		LogFormat:       str(*logFormat, "TELEOP_LOG_FORMAT", "text"),
		LogLevel:        str(*logLevel, "TELEOP_LOG_LEVEL", "info"),
	}

	if cfg.TransportType == "webrtc" && len(cfg.SignalingURLs) == 0 {
		return nil, fmt.Errorf("config: signaling-urls required for transport=webrtc")
	}
	if cfg.TransportType == "mqtt" && cfg.MQTTHost == "" {
		return nil, fmt.Errorf("config: mqtt-host required for transport=mqtt")
	}
	return cfg, nil
}

func envFileFromArgs(args []string) string {
	for i, a := range args {
		if a == "--env-file" || a == "-env-file" || a == "--dotenv" || a == "-dotenv" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if strings.HasPrefix(a, "--env-file=") {
			return strings.TrimPrefix(a, "--env-file=")
		}
		if strings.HasPrefix(a, "-env-file=") {
			return strings.TrimPrefix(a, "-env-file=")
		}
		if strings.HasPrefix(a, "--dotenv=") {
			return strings.TrimPrefix(a, "--dotenv=")
		}
		if strings.HasPrefix(a, "-dotenv=") {
			return strings.TrimPrefix(a, "-dotenv=")
		}
	}
	return ""
}
