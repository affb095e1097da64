// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogger(t *testing.T) {

	t.Run("json", func(t *testing.T) {

		l, err := newLogger("warn", "json")
		require.NoError(t, err)

		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("console", func(t *testing.T) {

		l, err := newLogger("debug", "console")
		require.NoError(t, err)

		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid format", func(t *testing.T) {

		_, err := newLogger("info", "xml")
		require.Error(t, err)
		assert.Equal(t, "unsupported log format 'xml'", err.Error())
	})

	t.Run("invalid level", func(t *testing.T) {

		_, err := newLogger("loud", "json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level 'loud'")
	})
}
