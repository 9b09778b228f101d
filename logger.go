// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

func init() {
	logger = logrus.New()
}

// SetLogger replaces the package logger, e.g. with one sharing the
// formatter of the embedding application.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
