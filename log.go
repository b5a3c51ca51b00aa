// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"github.com/intuitivelabs/slog"
)

// Log is the package-wide logger. DBG/ERR/WARN/BUG/PANIC below are thin
// wrappers around it; the wrappers do not check the level themselves, so
// call sites guard DBG/ERR/WARN with the corresponding *on() check to skip
// the formatting work when the level is disabled (see wtimer.go's
// DBGon()-guarded call sites, reproduced here).
var Log slog.Log

func init() {
	Log.Init(NAME, slog.LWARN, slog.LWARN)
}

// DBGon returns true if debug-level logging is enabled.
func DBGon() bool { return Log.DBGon() }

// ERRon returns true if error-level logging is enabled.
func ERRon() bool { return Log.ERRon() }

// WARNon returns true if warning-level logging is enabled.
func WARNon() bool { return Log.WARNon() }

// DBG logs a debug message. Callers should guard expensive argument
// formatting with DBGon() first.
func DBG(f string, a ...interface{}) { Log.DBG(f, a...) }

// ERR logs an error message.
func ERR(f string, a ...interface{}) { Log.ERR(f, a...) }

// WARN logs a warning message.
func WARN(f string, a ...interface{}) { Log.WARN(f, a...) }

// BUG logs an internal-inconsistency message (a failed invariant that does
// not necessarily warrant crashing the process).
func BUG(f string, a ...interface{}) { Log.BUG(f, a...) }

// PANIC logs a message and panics. Used on corrupted internal state that
// invalidates the data structure invariants (e.g. a double-linked list
// whose next/prev disagree) where continuing would only corrupt memory
// further.
func PANIC(f string, a ...interface{}) { Log.PANIC(f, a...) }
