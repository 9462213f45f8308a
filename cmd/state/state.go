/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package state holds what every tabpilot command shares: the process
// environment, the terminal and the loggers.
package state

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/tabpilot/ui/console"
)

// GlobalState contains the process wide values of a tabpilot invocation. Tests
// replace its fields to run commands without touching the real process.
type GlobalState struct {
	Ctx context.Context

	Getwd      func() (string, error)
	BinaryName string
	CmdArgs    []string
	Env        map[string]string
	ReadFile   func(name string) ([]byte, error)
	WriteFile  func(name string, data []byte, perm os.FileMode) error

	DefaultFlags, Flags GlobalOptions

	Console *console.Console

	OSExit       func(int)
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger         *logrus.Logger
	FallbackLogger logrus.FieldLogger
}

// NewGlobalState returns a GlobalState for the current process.
func NewGlobalState(ctx context.Context) *GlobalState {
	env := BuildEnvMap(os.Environ())
	_, noColorSet := env["NO_COLOR"]
	con := console.New(os.Stdout, os.Stderr, os.Stdin, !noColorSet, env["TERM"])

	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = ".config"
	}
	defaultFlags := GetDefaultGlobalOptions(confDir)
	globalFlags := consolidateGlobalFlags(defaultFlags, env)

	logger := &logrus.Logger{
		Out:       con.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	binary, err := os.Executable()
	if err != nil {
		binary = "tabpilot"
	}

	return &GlobalState{
		Ctx:          ctx,
		Getwd:        os.Getwd,
		BinaryName:   filepath.Base(binary),
		CmdArgs:      os.Args,
		Env:          env,
		ReadFile:     os.ReadFile,
		WriteFile:    os.WriteFile,
		DefaultFlags: defaultFlags,
		Flags:        globalFlags,
		Console:      con,
		OSExit:       os.Exit,
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{ // we may modify the other one
			Out:       con.Stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}

// BuildEnvMap returns a map from raw environment variable strings.
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v := parseEnvKeyValue(kv)
		env[k] = v
	}
	return env
}

func parseEnvKeyValue(kv string) (string, string) {
	if idx := strings.IndexRune(kv, '='); idx != -1 {
		return kv[:idx], kv[idx+1:]
	}
	return kv, ""
}

// Stdout is where command output goes.
func (gs *GlobalState) Stdout() io.Writer {
	return gs.Console.Stdout
}
