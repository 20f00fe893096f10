// Package cmn holds configuration, read-mostly runtime knobs, and error
// types shared by every SSAD package.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/openfabrics/ssad/cmn/nlog"
)

type (
	// ErrNotFound is returned for lookups against the tree manager's
	// member map or a service's database reference when neither exists.
	ErrNotFound struct{ what string }

	// ErrProtocol reports a wire-level violation (§4.1/§4.3/§4.4): bad
	// version/class, unknown opcode, phase skip, or correlation mismatch.
	// The connection that produced it must be closed, never retried
	// in place.
	ErrProtocol struct{ reason string }

	// ErrDenied is the tree manager's "no eligible parent yet" reply
	// (§4.2 RequestDenied); callers retry with backoff, it is never fatal.
	ErrDenied struct{ who string }

	// Errs accumulates distinct, capped errors from independent
	// concurrent operations, e.g. per-table field/data-set validation.
	Errs struct {
		mu   sync.Mutex
		errs []error
	}
)

const maxErrs = 4

func NewErrNotFound(format string, a ...any) *ErrNotFound { return &ErrNotFound{fmt.Sprintf(format, a...)} }
func (e *ErrNotFound) Error() string                      { return e.what + ": not found" }

func NewErrProtocol(format string, a ...any) *ErrProtocol { return &ErrProtocol{fmt.Sprintf(format, a...)} }
func (e *ErrProtocol) Error() string                      { return "protocol violation: " + e.reason }

func NewErrDenied(who string) *ErrDenied { return &ErrDenied{who} }
func (e *ErrDenied) Error() string       { return e.who + ": request denied, no parent available" }

func IsErrNotFound(err error) bool { var e *ErrNotFound; return errors.As(err, &e) }
func IsErrProtocol(err error) bool { var e *ErrProtocol; return errors.As(err, &e) }
func IsErrDenied(err error) bool   { var e *ErrDenied; return errors.As(err, &e) }

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, have := range e.errs {
		if have.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) JoinErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}

// ExitLog logs a fatal startup error (§6 exit code 1: configuration or
// initialization failure) and terminates the process.
func ExitLog(args ...any) {
	nlog.Errorln(args...)
	nlog.Flush(true)
	os.Exit(1)
}
