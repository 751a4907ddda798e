// Package log provides the process-wide zap logger.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

// log skips one frame so the package helpers report their caller;
// baseLogger does not and backs the Named component loggers.
var log *zap.SugaredLogger
var baseLogger *zap.Logger

// Init initializes the package-level logger
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %v", err)
	}

	setLogger(zapLogger)
	return nil
}

func setLogger(l *zap.Logger) {
	baseLogger = l
	log = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func getBase() *zap.Logger {
	if baseLogger == nil {
		l, _ := zap.NewProduction()
		setLogger(l)
	}
	return baseLogger
}

// GetSugaredLogger returns the sugared logger without the helper caller skip.
func GetSugaredLogger() *zap.SugaredLogger {
	return getBase().Sugar()
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger {
	return getBase().Named(component).Sugar()
}

// Sync flushes any buffered log entries
func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

func Infow(msg string, keysAndValues ...interface{}) {
	getBase()
	log.Infow(msg, keysAndValues...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	getBase()
	log.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	getBase()
	log.Errorw(msg, keysAndValues...)
}
