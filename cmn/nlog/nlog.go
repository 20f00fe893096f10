// Package nlog is the daemon-wide logger: leveled, buffered, file-backed,
// with optional stderr mirroring and size-based rotation.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{sevInfo: 'I', sevWarn: 'W', sevErr: 'E'}
var sevText = [...]string{sevInfo: "INFO", sevWarn: "WARNING", sevErr: "ERROR"}

const (
	bufSize     = 64 * 1024
	maxLineSize = 2 * 1024
	// MaxSize is the per-file rotation threshold.
	MaxSize int64 = 4 * 1024 * 1024
)

var (
	toStderr, alsoToStderr bool
	logDir, daemonRole     string
	pid                    = os.Getpid()
	host, _                = os.Hostname()

	nlogs = [...]*flog{sevInfo: newFlog(sevInfo), sevErr: newFlog(sevErr)}
)

// flog is one severity's buffered, rotating file sink.
type flog struct {
	mu      sync.Mutex
	w       *bufio.Writer
	file    *os.File
	written int64
	last    time.Time
	sev     severity
}

func newFlog(sev severity) *flog { return &flog{sev: sev} }

func sname() string {
	role := daemonRole
	if role == "" {
		role = "ssad"
	}
	return role
}

func (f *flog) ensureOpen() error {
	if f.file != nil {
		return nil
	}
	dir := logDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s.%s.%s.%d.log", sname(), host, sevText[f.sev], time.Now().Format("20060102-150405"), pid)
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.file = file
	f.w = bufio.NewWriterSize(file, bufSize)
	f.written = 0
	return nil
}

func (f *flog) rotateIfNeeded() {
	if f.written < MaxSize {
		return
	}
	f.w.Flush()
	f.file.Close()
	f.file = nil
}

func (f *flog) writeLine(line []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if toStderr {
		os.Stderr.Write(line)
		return
	}
	if err := f.ensureOpen(); err != nil {
		os.Stderr.Write(line)
		return
	}
	n, _ := f.w.Write(line)
	f.written += int64(n)
	f.last = time.Now()
	if alsoToStderr || f.sev >= sevErr {
		os.Stderr.Write(line)
	}
	if f.w.Buffered() > bufSize-maxLineSize {
		f.w.Flush()
	}
	f.rotateIfNeeded()
}

func (f *flog) flush(exit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w != nil {
		f.w.Flush()
	}
	if exit && f.file != nil {
		f.file.Sync()
		f.file.Close()
		f.file = nil
	}
}

func caller(depth int) string {
	_, fn, ln, ok := runtime.Caller(depth)
	if !ok {
		return "???"
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	return fn + ":" + strconv.Itoa(ln)
}

func log(sev severity, format string, args ...any) {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	b.WriteString(caller(3))
	b.WriteByte(' ')
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	line := []byte(b.String())

	// warnings land in both the info and error sinks so a tail -f on
	// either one sees the full picture around a failure.
	if sev >= sevWarn {
		nlogs[sevErr].writeLine(line)
	}
	nlogs[sevInfo].writeLine(line)
}
