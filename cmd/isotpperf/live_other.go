//go:build !linux

package main

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/cansource"
	"github.com/farouk15160/isotpperf/internal/config"
)

func openLive(cfg *config.Config, logger *log.Logger) (cansource.Source, error) {
	return nil, errors.New("live capture needs SocketCAN (Linux), use -l to replay a log")
}
