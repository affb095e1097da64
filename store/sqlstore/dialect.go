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

package sqlstore

import (
	"strconv"
	"strings"
)

// A Dialect holds the syntax differences between databases.
type Dialect struct {
	Name        string
	placeholder func(n int) string
}

// Supported dialects.
var (
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}

	SQLite = Dialect{
		Name:        "sqlite",
		placeholder: func(int) string { return "?" },
	}
)

// quote quotes an identifier.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// builder accumulates a statement and its arguments.
type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func (b *builder) write(parts ...string) *builder {

	for _, p := range parts {
		b.sb.WriteString(p)
	}

	return b
}

func (b *builder) arg(v any) *builder {

	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.placeholder(len(b.args)))

	return b
}

func (b *builder) String() string {
	return b.sb.String()
}
