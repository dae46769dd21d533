package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/cansource"
	"github.com/farouk15160/isotpperf/internal/config"
	"github.com/farouk15160/isotpperf/internal/monitor"
	"github.com/farouk15160/isotpperf/internal/mqtt"
	"github.com/farouk15160/isotpperf/internal/report"
)

func main() {
	os.Exit(run(filepath.Base(os.Args[0]), os.Args[1:]))
}

func run(prog string, args []string) int {
	cfg, err := config.Parse(prog, args, os.Stderr)
	switch {
	case errors.Is(err, config.ErrHelp):
		return 0
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          config.AppName,
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	src, err := openSource(cfg, logger)
	if err != nil {
		logger.Error("open frame source", "err", err)
		return 1
	}
	defer src.Close()

	term := report.NewTerminal(os.Stdout)
	sinks := []report.Sink{term}
	if cfg.Broker != "" {
		client, err := mqtt.NewClient(mqtt.Options{
			Broker:      cfg.Broker,
			ClientID:    cfg.ClientID,
			StatusTopic: cfg.Topic + "/status",
			Logger:      logger,
		})
		if err != nil {
			logger.Error("mqtt", "err", err)
			return 1
		}
		client.Connect()
		defer client.Disconnect()
		sinks = append(sinks, report.NewEventPublisher(client, cfg.Topic, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := monitor.New(src, cfg.Filter(), report.Multi(sinks...), config.IdleTimeout, logger)
	if err := m.Run(ctx); err != nil {
		logger.Error("receive", "err", err)
		return 1
	}
	if err := term.Err(); err != nil {
		logger.Error("write output", "err", err)
		return 1
	}
	return 0
}

func openSource(cfg *config.Config, logger *log.Logger) (cansource.Source, error) {
	if cfg.LogFile != "" {
		var r io.Reader = os.Stdin
		if cfg.LogFile != "-" {
			f, err := os.Open(cfg.LogFile)
			if err != nil {
				return nil, err
			}
			r = f
		}
		logger.Info("replaying", "file", cfg.LogFile)
		return cansource.NewReplay(r, logger, cfg.Src, cfg.Dst), nil
	}
	return openLive(cfg, logger)
}
