package main

import (
	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/cansource"
	"github.com/farouk15160/isotpperf/internal/config"
)

func openLive(cfg *config.Config, logger *log.Logger) (cansource.Source, error) {
	if cfg.Classic {
		return cansource.OpenBus(cfg.Interface, logger, cfg.Src, cfg.Dst)
	}
	return cansource.OpenSocketCAN(cfg.Interface, logger, cfg.Src, cfg.Dst)
}
