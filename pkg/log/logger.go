// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"log"
	"os"
)

// Logger describes a logger to be used in nvfwsec.
type Logger interface {
	// Debugf logs a debug message.
	Debugf(format string, args ...interface{})

	// Warnf logs an warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and immediately exits the application
	// with os.Exit.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere within nvfwsec.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

// Debugf implements Logger.
func (logger logWrapper) Debugf(format string, args ...interface{}) {
	logger.Logger.Printf("[nvfwsec][DEBUG] "+format, args...)
}

// Warnf implements Logger.
func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[nvfwsec][WARN] "+format, args...)
}

// Errorf implements Logger.
func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[nvfwsec][ERROR] "+format, args...)
}

// Fatalf implements Logger.
func (logger logWrapper) Fatalf(format string, args ...interface{}) {
	logger.Logger.Fatalf("[nvfwsec][FATAL] "+format, args...)
}

// NopLogger discards all messages. The bring-up core must keep working
// with logging disabled, so orchestration falls back to it when the
// caller supplies no logger.
type NopLogger struct{}

// Debugf implements Logger.
func (NopLogger) Debugf(format string, args ...interface{}) {}

// Warnf implements Logger.
func (NopLogger) Warnf(format string, args ...interface{}) {}

// Errorf implements Logger.
func (NopLogger) Errorf(format string, args ...interface{}) {}

// Fatalf implements Logger. It exits without printing.
func (NopLogger) Fatalf(format string, args ...interface{}) {
	os.Exit(1)
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	DefaultLogger.Debugf(format, args...)
}

// Warnf logs an warning message.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}

// Fatalf logs a fatal message and immediately exits the application
// with os.Exit (which is expected to be called by the DefaultLogger.Fatalf).
func Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf(format, args...)
}
