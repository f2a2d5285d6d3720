package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/gps"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/ingest"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/logger"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/metrics"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/server"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/web"
)

const statsInterval = time.Minute

func main() {
	configPath := flag.String("config", "/etc/bueirodash/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Start with simulated readings and a fixed position")
	live := flag.Bool("live", false, "Start connected to the MQTT broker")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	boot, _ := logger.New(logger.Config{Level: "info", Format: "console"})

	cfg := server.LoadConfig(*configPath, boot.Named("config"))
	if *demo {
		cfg.Mode = ingest.Mock.String()
		cfg.GPS.Type = "static"
	}
	if *live {
		cfg.Mode = ingest.Live.String()
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		boot.Fatal("logger init failed", zap.Error(err))
	}
	defer log.Sync()

	mqtt.ERROR = logger.StdLog(log.Named("paho"), zapcore.ErrorLevel)
	mqtt.CRITICAL = logger.StdLog(log.Named("paho"), zapcore.ErrorLevel)

	mode, err := ingest.ParseMode(cfg.Mode)
	if err != nil {
		log.Warn("invalid startup mode, using mock", zap.String("mode", cfg.Mode))
		mode = ingest.Mock
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	m := metrics.New()
	chanLog := log.Named("channel")
	core := ingest.New(ingest.Options{
		Mode: mode,
		Live: func(sink telemetry.Sink) telemetry.Producer {
			return telemetry.NewChannel(cfg.ChannelConfig(), sink, chanLog, nil)
		},
		Mock: func(sink telemetry.Sink) telemetry.Producer {
			return telemetry.NewGenerator(sink, cfg.MockInterval(), rand.New(rand.NewSource(time.Now().UnixNano())))
		},
		Logger:  log.Named("ingest"),
		Metrics: m,
	})
	if err := core.Start(); err != nil {
		log.Fatal("ingestion start failed", zap.Error(err))
	}
	defer core.Close()

	// Position is acquired once per session; the dashboard starts regardless.
	go func() {
		timeout := time.Duration(cfg.GPS.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = time.Minute
		}
		gctx, gcancel := context.WithTimeout(ctx, timeout)
		defer gcancel()
		core.AcquirePosition(gctx, newPositionProvider(cfg.GPS, log.Named("gps")))
	}()

	go logStats(ctx, core, log)

	srv := server.New(cfg, core, m.Handler(), web.FS, log.Named("server"))
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", zap.Error(err))
	}
}

func newPositionProvider(cfg server.GPSConfig, log *zap.Logger) gps.Provider {
	switch cfg.Type {
	case "nmea":
		return gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.PortPath,
			BaudRate: cfg.BaudRate,
		}, log)
	case "disabled":
		return gps.DisabledProvider{}
	default:
		return gps.NewStatic(cfg.Latitude, cfg.Longitude)
	}
}

// logStats writes a periodic summary of the ingestion counters.
func logStats(ctx context.Context, core *ingest.Core, log *zap.Logger) {
	started := time.Now()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := core.Stats()
			log.Info(fmt.Sprintf("%s messages applied since %s", humanize.Comma(int64(st.Applied)), humanize.Time(started)),
				zap.Stringer("mode", core.Mode()),
				zap.Stringer("status", core.Status()),
				zap.String("dropped", humanize.Comma(int64(st.Dropped))),
				zap.String("stale", humanize.Comma(int64(st.Stale))))
		}
	}
}
