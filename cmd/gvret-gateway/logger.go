package main

import (
	"log/slog"
	"os"

	"github.com/canbridge/gvret-canet-gateway/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, level, os.Stderr).With("app", "gvret-gateway")
	logging.Set(l)
	return l
}
