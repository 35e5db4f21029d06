// Command motioncore is a thin demonstration harness: it wires a Config,
// a Planner and a PulseSink together and feeds them a short move stream,
// the way the teacher's main/K3cMain.go inits the logger, constructs the
// domain object, runs it, then idles.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"motioncore/internal/config"
	"motioncore/internal/logger"
	"motioncore/internal/planner"
	"motioncore/internal/pulsesink"
	"motioncore/internal/sysid"
)

func main() {
	device := flag.String("device", "", "serial device path for the pulse sink; empty uses an in-memory sink")
	baud := flag.Int("baud", 115200, "serial baud rate")
	logfile := flag.String("logfile", "", "log file path; empty logs to console only")
	flag.Parse()

	logger.InitLogger(logger.InfoLevel, *logfile, true, 64, 3, 7)
	defer logger.Sync()

	logger.Debugf("main thread %d running", sysid.GID())

	cfg := buildDemoConfig()

	sink, err := buildSink(*device, *baud)
	if err != nil {
		logger.Fatalf("motioncore: build pulse sink: %v", err)
	}

	p := planner.NewPlanner(cfg, sink, planner.DefaultMoveCacheSize, 200_000_000)
	if err := p.RunThread(); err != nil {
		logger.Fatalf("motioncore: run thread: %v", err)
	}

	queueDemoMoves(p)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.WaitUntilFinished(ctx); err != nil {
		logger.Warnf("motioncore: wait until finished: %v", err)
	}

	p.Close()
	os.Exit(0)
}

func buildSink(device string, baud int) (pulsesink.PulseSink, error) {
	if device == "" {
		return pulsesink.NewMemoryPulseSink(), nil
	}
	return pulsesink.NewSerialPulseSink(device, baud)
}

// buildDemoConfig mirrors the values spec.md §8's worked scenarios use, so
// the demo move stream below produces sensible trapezoids.
func buildDemoConfig() *config.Config {
	cfg := config.NewConfig(1)
	cfg.SetMaxFeedrates([3]float64{0.3, 0.3, 0.3})
	cfg.SetPrintAcceleration([3]float64{3, 3, 3})
	cfg.SetTravelAcceleration([3]float64{3, 3, 3})
	cfg.SetAxisStepsPerMeter([3]uint64{80_000, 80_000, 80_000})
	cfg.SetMaxJerk(0.02, 0.3e-3)
	cfg.SetExtruderMaxFeedrate(0, 0.3)
	cfg.SetExtruderPrintAcceleration(0, 3)
	cfg.SetExtruderTravelAcceleration(0, 3)
	cfg.SetExtruderAxisStepsPerMeter(0, 80_000)
	cfg.SetExtruderMaxStartFeedrate(0, 0.04)
	if err := cfg.SetExtruder(0); err != nil {
		logger.Fatalf("motioncore: select extruder: %v", err)
	}
	return cfg
}

// queueDemoMoves submits a short X/Y travel followed by a print move, close
// to spec.md §8's scenario 1 and 2 shapes.
func queueDemoMoves(p *planner.Planner) {
	moves := []struct {
		axisDiffM [planner.NumAxis]float64
		numSteps  [planner.NumAxis]int64
		speedMPS  float64
		cancel    bool
		optimize  bool
	}{
		{axisDiffM: [planner.NumAxis]float64{0.01, 0, 0, 0}, numSteps: [planner.NumAxis]int64{800, 0, 0, 0}, speedMPS: 0.1, optimize: true},
		{axisDiffM: [planner.NumAxis]float64{0.01, 0.01, 0, 0.002}, numSteps: [planner.NumAxis]int64{800, 800, 0, 160}, speedMPS: 0.15, optimize: true},
		{axisDiffM: [planner.NumAxis]float64{0, 0, 0.001, 0}, numSteps: [planner.NumAxis]int64{0, 0, 80, 0}, speedMPS: 0.02},
	}

	for i, m := range moves {
		if err := p.QueueMove(m.axisDiffM, m.numSteps, m.speedMPS, m.cancel, m.optimize); err != nil {
			logger.Errorf("motioncore: queue move %d: %v", i, err)
		}
	}
}
