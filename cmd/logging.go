// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var logRotator *lumberjack.Logger

// setupLogging points the standard logger at a size-rotated file when a
// log file is given. Otherwise log output stays on stderr.
func setupLogging(path string, cfg LogConfig) error {
	if path == "" {
		return nil
	}
	logRotator = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMb,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(logRotator)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

// loggingToFile reports whether log output goes to the rotated file
func loggingToFile() bool {
	return logRotator != nil
}

// redirectLogging sends log output to w unless a log file is in use.
// The returned function restores stderr.
func redirectLogging(w io.Writer) func() {
	if loggingToFile() {
		return func() {}
	}
	log.SetOutput(w)
	return func() { log.SetOutput(os.Stderr) }
}

func closeLogging() {
	if logRotator != nil {
		logRotator.Close()
	}
}
