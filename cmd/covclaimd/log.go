package main

import (
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"

	"github.com/vulpemcov/covclaimd/api"
	"github.com/vulpemcov/covclaimd/chain/elementsrpc"
	"github.com/vulpemcov/covclaimd/chain/esplora"
	"github.com/vulpemcov/covclaimd/claimer"
	"github.com/vulpemcov/covclaimd/constructor"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/notify"
)

var (
	logWriter = build.NewRotatingLogWriter()
	log       = build.NewSubLogger("COVD", genSubLogger(logWriter))
)

// setupLogging registers one sub-logger per subsystem and starts the
// rotating log file, mirroring chantools' setupLogging in
// cmd/chantools/root.go.
func setupLogging(logFile string, chainBackend string) error {
	setSubLogger("COVD", log)
	addSubLogger("DB  ", db.UseLogger)
	addSubLogger("CLMR", claimer.UseLogger)
	addSubLogger("CNST", constructor.UseLogger)
	addSubLogger("API ", api.UseLogger)
	addSubLogger("NTFY", notify.UseLogger)

	switch chainBackend {
	case "elements":
		addSubLogger("CHNC", elementsrpc.UseLogger)
	case "esplora":
		addSubLogger("CHNC", esplora.UseLogger)
	}

	if err := logWriter.InitLogRotator(logFile, 10, 3); err != nil {
		return err
	}
	return build.ParseAndSetDebugLevels("info", logWriter)
}

// genSubLogger creates a sub logger with an empty shutdown function.
func genSubLogger(logWriter *build.RotatingLogWriter) func(string) btclog.Logger {
	return func(s string) btclog.Logger {
		return logWriter.GenSubLogger(s, func() {})
	}
}

// addSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func addSubLogger(subsystem string, useLoggers ...func(btclog.Logger)) {
	logger := build.NewSubLogger(subsystem, genSubLogger(logWriter))
	setSubLogger(subsystem, logger, useLoggers...)
}

// setSubLogger is a helper method to conveniently register the logger of a
// sub system.
func setSubLogger(subsystem string, logger btclog.Logger,
	useLoggers ...func(btclog.Logger)) {

	logWriter.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
