// Package nlog is the daemon-wide logger: leveled, buffered, file-backed,
// with optional stderr mirroring and size-based rotation.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package nlog

import "flag"

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func Infoln(args ...any)                  { log(sevInfo, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningln(args ...any)               { log(sevWarn, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorln(args ...any)                 { log(sevErr, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }

// SetLogDirRole points the logger at a directory and tags file names with
// the daemon's role (e.g. "core", "access") so co-located core+access
// processes don't clobber each other's log files.
func SetLogDirRole(dir, role string) { logDir, daemonRole = dir, role }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string  { return sname() + ".ERROR" }

// Flush writes out buffered lines; when exit is true it also syncs and
// closes the underlying files (clean-shutdown path).
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, sev := range []severity{sevInfo, sevErr} {
		nlogs[sev].flush(ex)
	}
}
