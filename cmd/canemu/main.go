// canemu prints emulated CAN traffic in candump log form, one frame per line,
// so it can be piped into the ingest port or canplayer.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/emulator"
	"github.com/chuanjin/obdbridge/internal/logger"
	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/chuanjin/obdbridge/internal/stream"
	"github.com/chuanjin/obdbridge/internal/ticker"
	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "telemetry", "generator: telemetry, drift or obd")
	interval := flag.Duration("interval", emulator.DefaultInterval, "tick interval")
	count := flag.Int("count", 0, "stop after this many ticks (0 runs until interrupted)")
	sources := flag.String("sources", "A,B", "comma-separated source labels for drift mode")
	iface := flag.String("iface", "vcan0", "interface name written on each line")
	debug := flag.Bool("debug", false, "log to stderr in development format")
	flag.Parse()

	if err := logger.Init(*debug, ""); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	gen, err := newGenerator(*mode, strings.Split(*sources, ","))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	frames := make(chan []canbus.Frame, 16)
	var loop ticker.Loop
	loop.Start(*interval, func(now time.Time) {
		select {
		case frames <- gen.Step(now):
		default:
			logger.Warn("Output is falling behind, dropping tick")
		}
	})
	defer loop.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-frames:
			for _, f := range batch {
				writeLine(out, *iface, f)
			}
			if err := out.Flush(); err != nil {
				logger.Error("Write failed", zap.Error(err))
				return
			}
			ticks++
			if *count > 0 && ticks >= *count {
				return
			}
		}
	}
}

// writeLine prints "(seconds.micros) iface ID#DATA" like candump -l.
func writeLine(w *bufio.Writer, iface string, f canbus.Frame) {
	ts := f.Time()
	fmt.Fprintf(w, "(%d.%06d) %s %s\n", ts.Unix(), ts.Nanosecond()/1000, iface, f)
}

// obdPoller answers the emulated PIDs in turn, like a scan tool polling an ECU.
type obdPoller struct {
	pids []uint8
	next int
}

func (p *obdPoller) Step(now time.Time) []canbus.Frame {
	pid := p.pids[p.next%len(p.pids)]
	p.next++
	if f, ok := obd.EmulateResponse(pid, now); ok {
		return []canbus.Frame{f}
	}
	return nil
}

func newGenerator(mode string, sources []string) (stream.Generator, error) {
	switch mode {
	case "telemetry":
		return emulator.NewTelemetry(nil, emulator.WithLogger(logger.Named("telemetry"))), nil
	case "drift":
		return emulator.NewDrift(sources, nil), nil
	case "obd":
		return &obdPoller{pids: obd.DefaultEmulatedPIDs}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want telemetry, drift or obd)", mode)
	}
}
