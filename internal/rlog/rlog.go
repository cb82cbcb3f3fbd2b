// Package rlog is a thin, teacher-styled façade over the standard log
// package: leveled Debugf/Warnf helpers gated by the DEBUG environment
// variable, the same toggle spec.md's command surface exposes.
package rlog

import (
	"log"
	"os"
)

var debug = os.Getenv("DEBUG") != ""

// Debugf logs a formatted diagnostic message only when DEBUG is set.
func Debugf(format string, args ...any) {
	if !debug {
		return
	}
	log.Printf("[debug] "+format, args...)
}

// Warnf always logs a formatted warning, matching the teacher's plain
// log.Printf calls for non-fatal diagnostics (e.g. missing fuse literal).
func Warnf(format string, args ...any) {
	log.Printf("[warn] "+format, args...)
}
