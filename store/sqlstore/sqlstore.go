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

// Package sqlstore provides a store.Store backed by database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
	"go.aporeto.io/armet/store"
	"go.uber.org/zap"
)

// A Table maps a collection to a database table.
type Table struct {
	Name          string
	PrimaryKey    string
	Columns       []string
	SearchColumns []string
}

func (t Table) primaryKey() string {

	if t.PrimaryKey == "" {
		return "id"
	}

	return t.PrimaryKey
}

func (t Table) columns() []string {

	pk := t.primaryKey()
	out := []string{pk}

	for _, c := range t.Columns {
		if c != pk {
			out = append(out, c)
		}
	}

	return out
}

func (t Table) hasColumn(name string) bool {

	for _, c := range t.columns() {
		if c == name {
			return true
		}
	}

	return false
}

// A SQLStore stores records in SQL tables. Each collection must be
// declared as a Table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	tables  map[string]Table
}

// New returns a new SQLStore using the given database.
func New(db *sql.DB, dialect Dialect, tables ...Table) *SQLStore {

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		tables:  make(map[string]Table, len(tables)),
	}

	for _, t := range tables {
		s.tables[t.Name] = t
	}

	return s
}

// DB returns the underlying database.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) table(collection string) (Table, error) {

	t, ok := s.tables[collection]
	if !ok {
		return Table{}, fmt.Errorf("%w: unknown collection '%s'", store.ErrInvalidQuery, collection)
	}

	return t, nil
}

func (s *SQLStore) newBuilder() *builder {
	return &builder{dialect: s.dialect}
}

// RetrieveMany implements store.Store.
func (s *SQLStore) RetrieveMany(ctx context.Context, collection string, q store.Query) ([]store.Record, int, error) {

	t, err := s.table(collection)
	if err != nil {
		return nil, 0, err
	}

	cb := s.newBuilder().write("SELECT COUNT(*) FROM ", quote(t.Name))
	if err = s.where(cb, t, q.Filters, q.Search, q.SearchFields); err != nil {
		return nil, 0, err
	}

	var total int
	if err = s.db.QueryRowContext(ctx, cb.String(), cb.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("unable to count %s: %w", collection, err)
	}

	b := s.selectFrom(t)
	if err = s.where(b, t, q.Filters, q.Search, q.SearchFields); err != nil {
		return nil, 0, err
	}

	if len(q.Order) > 0 {
		b.write(" ORDER BY ")
		for i, o := range q.Order {
			if !t.hasColumn(o.Field) {
				return nil, 0, fmt.Errorf("%w: unknown order field '%s'", store.ErrInvalidQuery, o.Field)
			}
			if i > 0 {
				b.write(", ")
			}
			b.write(quote(o.Field))
			if o.Descending {
				b.write(" DESC")
			} else {
				b.write(" ASC")
			}
		}
	}

	if q.Limit > 0 {
		b.write(" LIMIT ").arg(q.Limit)
	}

	if q.Offset > 0 {
		if q.Limit <= 0 && s.dialect.Name == SQLite.Name {
			b.write(" LIMIT -1")
		}
		b.write(" OFFSET ").arg(q.Offset)
	}

	records, err := s.query(ctx, b)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to retrieve %s: %w", collection, err)
	}

	return records, total, nil
}

// Retrieve implements store.Store.
func (s *SQLStore) Retrieve(ctx context.Context, collection string, id string, q store.Query) (store.Record, error) {

	t, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	filters := append([]store.Filter{{Field: t.primaryKey(), Operator: store.OperatorExact, Value: id}}, q.Filters...)

	b := s.selectFrom(t)
	if err = s.where(b, t, filters, "", nil); err != nil {
		return nil, err
	}

	records, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve %s/%s: %w", collection, id, err)
	}

	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	return records[0], nil
}

// Create implements store.Store.
func (s *SQLStore) Create(ctx context.Context, collection string, r store.Record) (store.Record, error) {

	t, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	r = r.Copy()
	pk := t.primaryKey()
	if v, ok := r[pk]; !ok || v == nil || v == "" {
		r[pk] = uuid.Must(uuid.NewV4()).String()
	}

	keys, err := s.columnsOf(t, r)
	if err != nil {
		return nil, err
	}

	b := s.newBuilder().write("INSERT INTO ", quote(t.Name), " (")
	for i, k := range keys {
		if i > 0 {
			b.write(", ")
		}
		b.write(quote(k))
	}

	b.write(") VALUES (")
	for i, k := range keys {
		if i > 0 {
			b.write(", ")
		}
		b.arg(r[k])
	}
	b.write(") RETURNING ", s.columnList(t))

	records, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("unable to create %s: %w", collection, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("unable to create %s: no row returned", collection)
	}

	return records[0], nil
}

// Update implements store.Store.
func (s *SQLStore) Update(ctx context.Context, collection string, id string, r store.Record) (store.Record, error) {

	t, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	r = r.Copy()
	delete(r, t.primaryKey())

	keys, err := s.columnsOf(t, r)
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return s.Retrieve(ctx, collection, id, store.Query{})
	}

	b := s.newBuilder().write("UPDATE ", quote(t.Name), " SET ")
	for i, k := range keys {
		if i > 0 {
			b.write(", ")
		}
		b.write(quote(k), " = ").arg(r[k])
	}
	b.write(" WHERE ", quote(t.primaryKey()), " = ").arg(id)
	b.write(" RETURNING ", s.columnList(t))

	records, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("unable to update %s/%s: %w", collection, id, err)
	}

	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	return records[0], nil
}

// Delete implements store.Store.
func (s *SQLStore) Delete(ctx context.Context, collection string, id string) error {

	t, err := s.table(collection)
	if err != nil {
		return err
	}

	b := s.newBuilder().write("DELETE FROM ", quote(t.Name), " WHERE ", quote(t.primaryKey()), " = ").arg(id)

	res, err := s.db.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return fmt.Errorf("unable to delete %s/%s: %w", collection, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to delete %s/%s: %w", collection, id, err)
	}

	if n == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (s *SQLStore) columnList(t Table) string {

	cols := t.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}

	return strings.Join(quoted, ", ")
}

func (s *SQLStore) selectFrom(t Table) *builder {
	return s.newBuilder().write("SELECT ", s.columnList(t), " FROM ", quote(t.Name))
}

// columnsOf returns the sorted keys of the record, which must all be
// columns of the table.
func (s *SQLStore) columnsOf(t Table, r store.Record) ([]string, error) {

	keys := make([]string, 0, len(r))
	for k := range r {
		if !t.hasColumn(k) {
			return nil, fmt.Errorf("%w: unknown column '%s' in '%s'", store.ErrInvalidQuery, k, t.Name)
		}
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys, nil
}

func (s *SQLStore) where(b *builder, t Table, filters []store.Filter, search string, searchFields []string) error {

	var clauses int
	next := func() {
		if clauses == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}
		clauses++
	}

	for _, f := range filters {

		if !t.hasColumn(f.Field) {
			return fmt.Errorf("%w: unknown filter field '%s'", store.ErrInvalidQuery, f.Field)
		}

		next()
		col := quote(f.Field)

		switch f.Operator {

		case store.OperatorExact, "":
			if f.Value == nil {
				b.write(col, " IS NULL")
			} else {
				b.write(col, " = ").arg(f.Value)
			}

		case store.OperatorIExact:
			b.write("LOWER(", col, ") = LOWER(").arg(fmt.Sprint(f.Value)).write(")")

		case store.OperatorContains:
			// Substring of the column, even for collections.
			b.write(col, " LIKE ").arg("%" + escapeLike(fmt.Sprint(f.Value)) + "%").write(` ESCAPE '\'`)

		case store.OperatorIContains:
			b.write("LOWER(", col, ") LIKE ").arg("%" + escapeLike(strings.ToLower(fmt.Sprint(f.Value))) + "%").write(` ESCAPE '\'`)

		case store.OperatorStartsWith:
			b.write(col, " LIKE ").arg(escapeLike(fmt.Sprint(f.Value)) + "%").write(` ESCAPE '\'`)

		case store.OperatorIn:
			values, ok := f.Value.([]any)
			if !ok {
				values = []any{f.Value}
			}
			if len(values) == 0 {
				b.write("1 = 0")
				continue
			}
			b.write(col, " IN (")
			for i, v := range values {
				if i > 0 {
					b.write(", ")
				}
				b.arg(v)
			}
			b.write(")")

		case store.OperatorGT:
			b.write(col, " > ").arg(f.Value)

		case store.OperatorGTE:
			b.write(col, " >= ").arg(f.Value)

		case store.OperatorLT:
			b.write(col, " < ").arg(f.Value)

		case store.OperatorLTE:
			b.write(col, " <= ").arg(f.Value)

		case store.OperatorIsNull:
			if v, _ := f.Value.(bool); v {
				b.write(col, " IS NULL")
			} else {
				b.write(col, " IS NOT NULL")
			}

		default:
			return fmt.Errorf("%w: unknown operator '%s'", store.ErrInvalidQuery, f.Operator)
		}
	}

	if search == "" {
		return nil
	}

	if len(searchFields) == 0 {
		searchFields = t.SearchColumns
	}

	if len(searchFields) == 0 {
		zap.L().Debug("Search ignored: no search columns", zap.String("table", t.Name))
		return nil
	}

	next()
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"

	b.write("(")
	for i, f := range searchFields {
		if !t.hasColumn(f) {
			return fmt.Errorf("%w: unknown search field '%s'", store.ErrInvalidQuery, f)
		}
		if i > 0 {
			b.write(" OR ")
		}
		b.write("LOWER(", quote(f), ") LIKE ").arg(pattern).write(` ESCAPE '\'`)
	}
	b.write(")")

	return nil
}

func (s *SQLStore) query(ctx context.Context, b *builder) ([]store.Record, error) {

	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() // nolint: errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []store.Record{}

	for rows.Next() {

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		r := make(store.Record, len(cols))
		for i, c := range cols {
			if raw, ok := values[i].([]byte); ok {
				r[c] = string(raw)
				continue
			}
			r[c] = values[i]
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return out, nil
}

func escapeLike(s string) string {

	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
