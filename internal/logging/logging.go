/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package logging wraps go-kit/log with the Pairs-based call convention this
// codebase uses everywhere else: Debug/Info/Warn/Error take a message and a
// flat map of structured fields.
package logging

import (
	"io"
	"os"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-stack/stack"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stephenfairchild/relay/internal/config"
)

// Pairs is a flat set of structured logging fields.
type Pairs map[string]interface{}

// Logger is the interface the rest of Relay logs through.
type Logger interface {
	Debug(msg string, p Pairs)
	Info(msg string, p Pairs)
	Warn(msg string, p Pairs)
	Error(msg string, p Pairs)
}

type logger struct {
	filtered kitlog.Logger
}

var (
	mu      sync.Mutex
	current Logger = mustNew(&config.LoggingConfig{LogLevel: "INFO"})
)

// New constructs a Logger from a LoggingConfig: stderr by default, or a
// lumberjack-rotated file when LogFile is set, filtered by LogLevel.
func New(c *config.LoggingConfig) (Logger, error) {
	var w io.Writer = os.Stderr
	if c.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    orDefault(c.MaxSizeMB, 100),
			MaxBackups: orDefault(c.MaxBackups, 5),
			MaxAge:     orDefault(c.MaxAgeDays, 28),
		}
	}
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)

	filtered := level.NewFilter(base, levelOption(c.LogLevel))

	return &logger{filtered: filtered}, nil
}

func mustNew(c *config.LoggingConfig) Logger {
	l, err := New(c)
	if err != nil {
		panic(err)
	}
	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func levelOption(name string) level.Option {
	switch name {
	case "DEBUG", "debug":
		return level.AllowDebug()
	case "WARN", "warn":
		return level.AllowWarn()
	case "ERROR", "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// SetDefault installs l as the package-level logger returned by Default().
func SetDefault(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Default returns the package-level logger.
func Default() Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func (l *logger) Debug(msg string, p Pairs) { l.log(level.Debug(l.filtered), msg, p) }
func (l *logger) Info(msg string, p Pairs)  { l.log(level.Info(l.filtered), msg, p) }
func (l *logger) Warn(msg string, p Pairs)  { l.log(level.Warn(l.filtered), msg, p) }

// Error logs at error level and attaches the immediate caller's frame, since
// that's the first thing an operator wants when a relayed request fails.
func (l *logger) Error(msg string, p Pairs) {
	if p == nil {
		p = Pairs{}
	}
	c := stack.Caller(2)
	p["caller"] = c.String()
	l.log(level.Error(l.filtered), msg, p)
}

func (l *logger) log(leveled kitlog.Logger, msg string, p Pairs) {
	kvs := make([]interface{}, 0, 2+2*len(p))
	kvs = append(kvs, "msg", msg)
	for k, v := range p {
		kvs = append(kvs, k, v)
	}
	_ = leveled.Log(kvs...)
}

// Debug logs at debug level through the default logger.
func Debug(msg string, p Pairs) { Default().Debug(msg, p) }

// Info logs at info level through the default logger.
func Info(msg string, p Pairs) { Default().Info(msg, p) }

// Warn logs at warn level through the default logger.
func Warn(msg string, p Pairs) { Default().Warn(msg, p) }

// Error logs at error level through the default logger.
func Error(msg string, p Pairs) { Default().Error(msg, p) }
