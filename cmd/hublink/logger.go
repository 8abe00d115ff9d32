package main

import (
	"log"

	"github.com/fatih/color"
)

var (
	debugPrefix = color.New(color.FgHiBlack).Sprint("[DEBUG]")
	infoPrefix  = color.New(color.FgCyan).Sprint("[INFO]")
	warnPrefix  = color.New(color.FgYellow).Sprint("[WARN]")
	errorPrefix = color.New(color.FgRed, color.Bold).Sprint("[ERROR]")
)

// colorLogger implements hublink.Logger on the standard logger with
// coloured level prefixes. Debug lines are dropped unless debug is set.
type colorLogger struct {
	debug bool
}

func (l *colorLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		log.Printf(debugPrefix+" "+format, args...)
	}
}

func (l *colorLogger) Infof(format string, args ...interface{}) {
	log.Printf(infoPrefix+" "+format, args...)
}

func (l *colorLogger) Warnf(format string, args ...interface{}) {
	log.Printf(warnPrefix+" "+format, args...)
}

func (l *colorLogger) Errorf(format string, args ...interface{}) {
	log.Printf(errorPrefix+" "+format, args...)
}

func (l *colorLogger) Info(message string) {
	log.Printf("%s %s", infoPrefix, message)
}
