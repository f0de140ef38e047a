// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil installs the process wide logger from configuration.
package logutil

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds a logger from cfg and makes it the one behind the log package's functions.
func InitLogger(cfg *log.Config) error {
	lg, props, err := log.InitLogger(cfg, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.Annotate(err, "initialize logger")
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// LogPanic logs a panic of the calling goroutine before letting it continue. Use it with defer.
func LogPanic() {
	if e := recover(); e != nil {
		log.Error("panic", zap.Reflect("recover", e), zap.Stack("stack"))
		log.Sync()
		panic(e)
	}
}
