// Package postgres is a record.Store keeping every collection in one JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

const (
	tableName     = "records"
	notifyChannel = "record_changes"
)

var (
	nowFunc = time.Now // mockable

	dialect = drivers.Dialect{
		LQ:                   '"',
		RQ:                   '"',
		UseIndexPlaceholders: true,
		UseDefaultKeyword:    true,
	}

	fieldRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	errNoCollection = errors.New("collection name is required")
	errNoID         = errors.New("record id is required")
)

type recordRow struct {
	ID        string     `boil:"id" db:"id"`
	Data      types.JSON `boil:"data" db:"data"`
	CreatedAt time.Time  `boil:"created_at" db:"created_at"`
	UpdatedAt null.Time  `boil:"updated_at" db:"updated_at"`
}

func (row recordRow) unboil() (record.Record, error) {
	var data record.Document
	if err := row.Data.Unmarshal(&data); err != nil {
		return record.Record{}, errors.Wrapf(err, "unmarshalling record %q", row.ID)
	}
	if data == nil {
		data = record.Document{}
	}
	return record.Record{
		ID:        row.ID,
		Data:      data,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.Time.UTC(),
	}, nil
}

type Store struct {
	db  *sqlx.DB
	dsn string
	hub *hub
}

var _ record.Store = (*Store)(nil) // interface compliance check

// NewStore wraps an open postgres connection. dsn is used to open the dedicated LISTEN connection of live queries.
func NewStore(db *sql.DB, dsn string, logger core.Logger) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		dsn: dsn,
		hub: newHub(dsn, logger),
	}
}

// Close stops the live query listener. The underlying *sql.DB is left open.
func (s *Store) Close() error {
	return s.hub.close()
}

func (s *Store) Create(ctx context.Context, collection string, data record.Document) (string, error) {
	ids, err := s.apply(ctx, "create", []record.Write{{Collection: collection, Data: data}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data record.Document) error {
	if id == "" {
		return core.NewWriteError("set", collection, errNoID)
	}
	_, err := s.apply(ctx, "set", []record.Write{{Collection: collection, ID: id, Data: data}})
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (record.Record, error) {
	var row recordRow
	q := "SELECT id, data, created_at, updated_at FROM records WHERE collection = $1 AND id = $2"
	if err := s.db.GetContext(ctx, &row, q, collection, id); err != nil {
		if err == sql.ErrNoRows {
			return record.Record{}, core.NewNotFoundError(collection, id)
		}
		return record.Record{}, errors.Wrapf(err, "getting %s %q", collection, id)
	}
	return row.unboil()
}

func (s *Store) Update(ctx context.Context, collection, id string, data record.Document) error {
	if collection == "" {
		return core.NewWriteError("update", collection, errNoCollection)
	}
	b, err := marshalDocument(data)
	if err != nil {
		return core.NewWriteError("update", collection, err)
	}

	q := queries.Raw(
		"UPDATE records SET data = data || $3::jsonb, updated_at = $4 WHERE collection = $1 AND id = $2",
		collection, id, string(b), nowFunc().UTC(),
	)
	res, err := q.ExecContext(ctx, s.db)
	if err != nil {
		return core.NewWriteError("update", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewWriteError("update", collection, err)
	}
	if n == 0 {
		return core.NewNotFoundError(collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.apply(ctx, "delete", []record.Write{{Collection: collection, ID: id, Delete: true}})
	return err
}

func (s *Store) Query(ctx context.Context, collection string, conds []record.Condition, ordering ...core.DBOrdering) ([]record.Record, error) {
	mods, err := queryMods(collection, conds, ordering)
	if err != nil {
		return nil, err
	}

	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	qm.Apply(q, mods...)

	var rows []recordRow
	if err := q.Bind(ctx, s.db, &rows); err != nil && errors.Cause(err) != sql.ErrNoRows {
		return nil, core.NewQueryError(collection, err)
	}

	records := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.unboil()
		if err != nil {
			return nil, core.NewQueryError(collection, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) Batch(ctx context.Context, writes []record.Write) ([]string, error) {
	return s.apply(ctx, "batch", writes)
}

// apply runs writes in a single transaction.
func (s *Store) apply(ctx context.Context, op string, writes []record.Write) ([]string, error) {
	if len(writes) == 0 {
		return []string{}, nil
	}
	payloads := make([][]byte, len(writes))
	for i, w := range writes {
		if w.Collection == "" {
			return nil, core.NewWriteError(op, w.Collection, errNoCollection)
		}
		if w.Delete {
			if w.ID == "" {
				return nil, core.NewWriteError(op, w.Collection, errNoID)
			}
			continue
		}
		b, err := marshalDocument(w.Data)
		if err != nil {
			return nil, core.NewWriteError(op, w.Collection, err)
		}
		payloads[i] = b
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, core.NewWriteError(op, writes[0].Collection, errors.Wrap(err, "beginning transaction"))
	}

	now := nowFunc().UTC()
	ids := make([]string, len(writes))
	for i, w := range writes {
		var q *queries.Query
		switch {
		case w.Delete:
			ids[i] = w.ID
			q = queries.Raw("DELETE FROM records WHERE collection = $1 AND id = $2", w.Collection, w.ID)
		case w.ID == "":
			ids[i] = uuid.New().String()
			q = queries.Raw(
				"INSERT INTO records (collection, id, data, created_at) VALUES ($1, $2, $3::jsonb, $4)",
				w.Collection, ids[i], string(payloads[i]), now,
			)
		default:
			ids[i] = w.ID
			q = queries.Raw(
				"INSERT INTO records (collection, id, data, created_at) VALUES ($1, $2, $3::jsonb, $4) "+
					"ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.created_at",
				w.Collection, ids[i], string(payloads[i]), now,
			)
		}
		if _, err := q.ExecContext(ctx, tx); err != nil {
			_ = tx.Rollback()
			return nil, core.NewWriteError(op, w.Collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, core.NewWriteError(op, writes[0].Collection, errors.Wrap(err, "committing transaction"))
	}
	return ids, nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, conds []record.Condition, onChange func([]record.Record)) (record.Unsubscribe, error) {
	if _, err := queryMods(collection, conds, nil); err != nil {
		return nil, err
	}
	load := func() ([]record.Record, error) {
		return s.Query(context.Background(), collection, conds)
	}
	return s.hub.subscribe(ctx, collection, load, onChange)
}

func marshalDocument(data record.Document) ([]byte, error) {
	doc, err := record.NormalizeDocument(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// queryMods translates conditions and ordering into sqlboiler query mods over the records table.
func queryMods(collection string, conds []record.Condition, ordering []core.DBOrdering) ([]qm.QueryMod, error) {
	normConds, err := record.NormalizeConditions(collection, conds)
	if err != nil {
		return nil, err
	}

	mods := []qm.QueryMod{
		qm.Select("id", "data", "created_at", "updated_at"),
		qm.From(tableName),
		qm.Where("collection = ?", collection),
	}
	for _, cond := range normConds {
		mod, err := conditionMod(cond)
		if err != nil {
			return nil, core.NewQueryError(collection, err)
		}
		mods = append(mods, mod)
	}

	for _, ord := range ordering {
		expr, err := fieldExpr(ord.Field)
		if err != nil {
			return nil, core.NewQueryError(collection, err)
		}
		direction := "DESC NULLS LAST"
		if ord.Ascending {
			direction = "ASC NULLS LAST"
		}
		mods = append(mods, qm.OrderBy(expr+" "+direction))
	}
	mods = append(mods, qm.OrderBy("seq ASC"))
	return mods, nil
}

func conditionMod(cond record.Condition) (qm.QueryMod, error) {
	switch cond.Field {
	case record.FieldID:
		return columnMod("id", "text", cond)
	case record.FieldCreatedAt:
		return columnMod("created_at", "timestamptz", cond)
	case record.FieldUpdatedAt:
		return columnMod("updated_at", "timestamptz", cond)
	}

	expr, err := fieldExpr(cond.Field)
	if err != nil {
		return nil, err
	}

	if cond.Op == record.OpIn {
		list, _ := cond.Value.([]interface{})
		vals := make([]string, 0, len(list))
		for _, v := range list {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			vals = append(vals, string(b))
		}
		return qm.Where(expr+" = ANY(?::jsonb[])", pq.Array(vals)), nil
	}

	b, err := json.Marshal(cond.Value)
	if err != nil {
		return nil, err
	}
	if cond.Op.IsRange() && cond.Op != record.OpNotEqual {
		// jsonb orders values of different types; only compare like with like
		return qm.Where(
			fmt.Sprintf("(jsonb_typeof(%s) = jsonb_typeof(?::jsonb) AND %s %s ?::jsonb)", expr, expr, cond.Op),
			string(b), string(b),
		), nil
	}
	return qm.Where(fmt.Sprintf("%s %s ?::jsonb", expr, sqlOperator(cond.Op)), string(b)), nil
}

func columnMod(column, sqlType string, cond record.Condition) (qm.QueryMod, error) {
	if cond.Op == record.OpIn {
		list, _ := cond.Value.([]interface{})
		vals := make([]string, 0, len(list))
		for _, v := range list {
			vals = append(vals, fmt.Sprint(v))
		}
		return qm.Where(fmt.Sprintf("%s = ANY(?::%s[])", column, sqlType), pq.Array(vals)), nil
	}
	return qm.Where(fmt.Sprintf("%s %s ?::%s", column, sqlOperator(cond.Op), sqlType), fmt.Sprint(cond.Value)), nil
}

func fieldExpr(field string) (string, error) {
	switch field {
	case record.FieldID:
		return "id", nil
	case record.FieldCreatedAt:
		return "created_at", nil
	case record.FieldUpdatedAt:
		return "updated_at", nil
	}
	if !fieldRegex.MatchString(field) {
		return "", errors.Errorf("invalid field name %q", field)
	}
	return "(data -> '" + field + "')", nil
}

func sqlOperator(op record.Operator) string {
	switch op {
	case record.OpEqual:
		return "="
	case record.OpNotEqual:
		return "<>"
	default:
		return strings.TrimSpace(string(op))
	}
}
