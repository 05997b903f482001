// Command statetail tails a Manager state log (NDJSON, one payload per
// line) and prints formatted or raw lines as they are appended. Grounded
// on original_source/rpi/state_log_viewer.py.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teleop-go/internal/statelog"
)

func main() {
	path := flag.String("file", envOr("TELEOP_STATE_LOG", "state.log"), "path to the state log file")
	history := flag.Int("history", 10, "number of historical lines to print on start, 0 to skip")
	raw := flag.Bool("raw", false, "print raw JSON lines instead of formatted output")
	interval := flag.Duration("interval", 500*time.Millisecond, "polling interval")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tailer := &statelog.Tailer{
		Path:     *path,
		History:  *history,
		Raw:      *raw,
		Interval: *interval,
		Emit:     func(line string) { fmt.Println(line) },
	}

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	tailer.Run(stop)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
