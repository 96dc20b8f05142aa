package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/datawire/dlib/dlog"
)

// withLogger sets up a logrus-backed dlog logger at the given level
// ("trace"|"debug"|"info"|"warn"|"error"), defaulting to info on an
// unrecognized or empty value.
func withLogger(ctx context.Context, level string) context.Context {
	logrusLogger := logrus.New()
	logrusLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrusLogger.SetLevel(parsed)

	logger := dlog.WrapLogrus(logrusLogger)
	dlog.SetFallbackLogger(logger)
	return dlog.WithLogger(ctx, logger)
}
