package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// The builders below pin go-sqlbuilder to the PostgreSQL flavor so every
// repository emits $n placeholders.

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

func (ib *InsertBuilder) InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.InsertInto(table)}
}

func (ib *InsertBuilder) Cols(col ...string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Cols(col...)}
}

func (ib *InsertBuilder) Values(value ...any) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Values(value...)}
}

func (ib *InsertBuilder) Returning(col ...string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Returning(col...)}
}

// UpsertOn makes the insert last-write-wins on keys: each of update is
// overwritten with the incoming row's value when keys already exist.
func (ib *InsertBuilder) UpsertOn(keys []string, update ...string) *InsertBuilder {
	assignments := make([]string, len(update))
	for i, col := range update {
		assignments[i] = col + " = EXCLUDED." + col
	}
	ib.SQL("ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(assignments, ", "))
	return ib
}

// IgnoreConflict leaves an existing row on keys untouched. With RETURNING
// the statement then yields no row.
func (ib *InsertBuilder) IgnoreConflict(keys ...string) *InsertBuilder {
	ib.SQL("ON CONFLICT (" + strings.Join(keys, ", ") + ") DO NOTHING")
	return ib
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{sqlbuilder.PostgreSQL.NewUpdateBuilder()}
}

type DeleteBuilder struct {
	*sqlbuilder.DeleteBuilder
}

func NewDeleteBuilder() *DeleteBuilder {
	return &DeleteBuilder{sqlbuilder.PostgreSQL.NewDeleteBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{sqlbuilder.PostgreSQL.NewSelectBuilder()}
}

// Struct maps a model's db tags to columns.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(sqlbuilder.PostgreSQL)}
}

func (s *Struct) SelectFrom(table string) *SelectBuilder {
	return &SelectBuilder{s.Struct.SelectFrom(table)}
}

func (s *Struct) InsertInto(table string, v ...any) *InsertBuilder {
	return &InsertBuilder{s.Struct.InsertInto(table, v...)}
}

// Columns lists the struct's mapped columns, minus skip.
func (s *Struct) Columns(skip ...string) []string {
	out := make([]string, 0, len(s.Struct.Columns()))
	for _, col := range s.Struct.Columns() {
		if !contains(skip, col) {
			out = append(out, col)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsNoRows reports whether err is the driver's empty result error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
