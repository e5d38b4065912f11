/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log contains the logging subsystem of the updater, a thin
// leveled façade over logr backed by zap
package log

import (
	"context"

	"github.com/go-logr/logr"
)

// Verbosity of the levels exposed by Logger, mapped onto logr
const (
	infoVerbosity  = 0
	debugVerbosity = 1
	traceVerbosity = 2
)

// Logger is the leveled interface used across the codebase
type Logger interface {
	Enabled() bool
	Error(err error, msg string, keysAndValues ...interface{})
	Warning(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Trace(msg string, keysAndValues ...interface{})
	WithValues(keysAndValues ...interface{}) Logger
	WithName(name string) Logger
	GetLogger() logr.Logger
}

type logger struct {
	l logr.Logger
}

// Log is the logger used when no more specific one is available. It
// discards everything until ConfigureLogging runs.
var Log Logger = logger{l: logr.Discard()}

// SetLogger replaces the backing logr implementation
func SetLogger(l logr.Logger) {
	Log = logger{l: l}
}

// FromLogr wraps an existing logr.Logger
func FromLogr(l logr.Logger) Logger {
	return logger{l: l}
}

func (l logger) Enabled() bool {
	return l.l.Enabled()
}

func (l logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.l.Error(err, msg, keysAndValues...)
}

func (l logger) Warning(msg string, keysAndValues ...interface{}) {
	l.l.V(infoVerbosity).Info(msg, append(keysAndValues, "severity", "warning")...)
}

func (l logger) Info(msg string, keysAndValues ...interface{}) {
	l.l.V(infoVerbosity).Info(msg, keysAndValues...)
}

func (l logger) Debug(msg string, keysAndValues ...interface{}) {
	l.l.V(debugVerbosity).Info(msg, keysAndValues...)
}

func (l logger) Trace(msg string, keysAndValues ...interface{}) {
	l.l.V(traceVerbosity).Info(msg, keysAndValues...)
}

func (l logger) WithValues(keysAndValues ...interface{}) Logger {
	return logger{l: l.l.WithValues(keysAndValues...)}
}

func (l logger) WithName(name string) Logger {
	return logger{l: l.l.WithName(name)}
}

func (l logger) GetLogger() logr.Logger {
	return l.l
}

type contextKey struct{}

// IntoContext injects a logger into a context
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext retrieves the logger injected into a context, falling back
// to the package-level one
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return Log
}

// Error logs an error message through the package-level logger
func Error(err error, msg string, keysAndValues ...interface{}) {
	Log.Error(err, msg, keysAndValues...)
}

// Warning logs a warning message through the package-level logger
func Warning(msg string, keysAndValues ...interface{}) {
	Log.Warning(msg, keysAndValues...)
}

// Info logs an informational message through the package-level logger
func Info(msg string, keysAndValues ...interface{}) {
	Log.Info(msg, keysAndValues...)
}

// Debug logs a debug message through the package-level logger
func Debug(msg string, keysAndValues ...interface{}) {
	Log.Debug(msg, keysAndValues...)
}

// Trace logs a trace message through the package-level logger
func Trace(msg string, keysAndValues ...interface{}) {
	Log.Trace(msg, keysAndValues...)
}

// WithName returns the package-level logger with a name segment added
func WithName(name string) Logger {
	return Log.WithName(name)
}

// WithValues returns the package-level logger with additional key/value
// pairs attached
func WithValues(keysAndValues ...interface{}) Logger {
	return Log.WithValues(keysAndValues...)
}
