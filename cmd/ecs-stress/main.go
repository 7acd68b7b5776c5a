package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/vague-archive/engine-sub000/ecs"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "How long to run the frame loop.")
	entityCount := flag.Int("entities", 10000, "Number of entities spawned on the first frame.")
	churn := flag.Int("churn", 50, "Entities despawned and respawned each frame.")
	configPath := flag.String("config", "", "Path to a TOML engine config file.")
	profileMode := flag.String("profile", "", `Write a profile to the working directory: "cpu" or "mem".`)
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Include GC pause totals in the report.")
	flag.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	case "":
	default:
		log.Fatalf("Unknown profile mode %q", *profileMode)
	}

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()

	var cfg ecs.Config
	if *configPath != "" {
		var err error
		cfg, err = ecs.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
	}

	fu, err := ecs.NewFrameUpdate(cfg, nil, logger)
	if err != nil {
		logger.Fatal("create engine", zap.Error(err))
	}
	defer fu.Close()

	ids := &stressIds{}
	mod := buildStressModule(ids, *entityCount, *churn)
	if err := fu.RegisterModule(mod); err != nil {
		logger.Fatal("register stress module", zap.Error(err))
	}
	ids.transform, _, _ = fu.Registry().GetByName(ecs.TransformName)
	ids.velocity, _, _ = fu.Registry().GetByName(velocityName)

	report := &Report{
		Duration:       *duration,
		Entities:       *entityCount,
		Churn:          *churn,
		Systems:        mod.SystemsLen(),
		GCPauseMetrics: *gcPauseMetrics,
	}
	runtime.ReadMemStats(&report.MemStart)

	logger.Info("running stress loop", zap.Duration("duration", *duration),
		zap.Int("entities", *entityCount), zap.Int("churn", *churn))

	start := time.Now()
	deadline := start.Add(*duration)
	last := start

	for now := start; now.Before(deadline); now = time.Now() {
		dt := float32(now.Sub(last).Seconds())
		last = now

		fu.Update(dt)

		report.FrameTimes.Samples = append(report.FrameTimes.Samples, time.Since(now))
		report.TotalUpdates++
	}

	report.TotalTime = time.Since(start)
	report.FrameTimes.Finalize()
	runtime.ReadMemStats(&report.MemEnd)
	fu.World().Each(func(ecs.EntityId, *ecs.EntityData) {
		report.FinalEntities++
	})

	fmt.Println()
	if err := report.Generate(os.Stdout); err != nil {
		logger.Fatal("write report", zap.Error(err))
	}
}
