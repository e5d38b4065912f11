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

package log

import (
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

// Log levels as strings, accepted by the --log-level flag
const (
	ErrorLevelString   = "error"
	WarningLevelString = "warning"
	InfoLevelString    = "info"
	DebugLevelString   = "debug"
	TraceLevelString   = "trace"

	// DefaultLevelString is used when the flag carries an unknown value
	DefaultLevelString = InfoLevelString
)

// Log levels as zap levels. Trace sits one step below zap's debug.
const (
	ErrorLevel   = zapcore.ErrorLevel
	WarningLevel = zapcore.WarnLevel
	InfoLevel    = zapcore.InfoLevel
	DebugLevel   = zapcore.DebugLevel
	TraceLevel   = zapcore.Level(int8(zapcore.DebugLevel) - 1)

	// DefaultLevel is used when the flag carries an unknown value
	DefaultLevel = InfoLevel
)

// Flags carries the logging configuration taken from the command line
type Flags struct {
	logLevel       string
	logDestination string
}

// AddFlags binds the logging flags to a given flag set
func (l *Flags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&l.logLevel, "log-level", DefaultLevelString,
		"the desired log level, one of error, warning, info, debug and trace")
	flags.StringVar(&l.logDestination, "log-destination", "",
		"where the log stream will be written (defaults to standard error)")
}

// ConfigureLogging configures the logging subsystem honoring the flags
// passed from the user, and routes client-go logging through it
func (l *Flags) ConfigureLogging() {
	switch l.logLevel {
	case ErrorLevelString,
		WarningLevelString,
		InfoLevelString,
		DebugLevelString,
		TraceLevelString:
	default:
		fmt.Fprintf(os.Stderr, "Invalid log level %q, defaulting to %q\n", l.logLevel, DefaultLevelString)
		l.logLevel = DefaultLevelString
	}

	destination := zapcore.Lock(os.Stderr)
	if l.logDestination != "" {
		logStream, err := os.OpenFile(l.logDestination, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666) //#nosec
		if err != nil {
			panic(fmt.Sprintf("Cannot open log destination %v: %v", l.logDestination, err))
		}
		destination = zapcore.Lock(logStream)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(getLogLevelString(level))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		destination,
		getLogLevel(l.logLevel),
	)

	zapLogger := zap.New(core)
	logrLogger := zapr.NewLogger(zapLogger)

	klog.SetLogger(logrLogger)
	SetLogger(logrLogger)
}

func getLogLevel(l string) zapcore.Level {
	switch l {
	case ErrorLevelString:
		return ErrorLevel
	case WarningLevelString:
		return WarningLevel
	case InfoLevelString:
		return InfoLevel
	case DebugLevelString:
		return DebugLevel
	case TraceLevelString:
		return TraceLevel
	default:
		return DefaultLevel
	}
}

func getLogLevelString(l zapcore.Level) string {
	switch l {
	case ErrorLevel:
		return ErrorLevelString
	case WarningLevel:
		return WarningLevelString
	case InfoLevel:
		return InfoLevelString
	case DebugLevel:
		return DebugLevelString
	case TraceLevel:
		return TraceLevelString
	default:
		return DefaultLevelString
	}
}
