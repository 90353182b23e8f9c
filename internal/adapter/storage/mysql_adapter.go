package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/stock-orders/internal/port"
)

const mysqlDuplicateEntry = 1062

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(255) NOT NULL,
	id         VARCHAR(191) NOT NULL,
	data       JSON NOT NULL,
	created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
	PRIMARY KEY (collection, id)
)`

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MySQLAdapter stores documents as JSON rows keyed by (collection path, id).
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, ref port.DocRef) (port.Document, error) {
	var raw []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = ? AND id = ?`,
		ref.Coll.Path(), ref.ID,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return port.Document{}, fmt.Errorf("get %s: %w", ref, port.ErrNotFound)
	}
	if err != nil {
		return port.Document{}, fmt.Errorf("query document: %w", err)
	}

	data, err := decodeRow(raw)
	if err != nil {
		return port.Document{}, fmt.Errorf("decode %s: %w", ref, err)
	}
	return port.Document{Ref: ref, Data: data}, nil
}

func (m *MySQLAdapter) GetAll(ctx context.Context, q port.Query) ([]port.Document, error) {
	var sb strings.Builder
	args := []any{q.Collection.Path()}
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = ?`)

	for _, f := range q.Where {
		path, err := jsonPath(f.Field)
		if err != nil {
			return nil, err
		}
		sb.WriteString(` AND JSON_UNQUOTE(JSON_EXTRACT(data, ?)) = ?`)
		args = append(args, path, filterValue(f.Value))
	}

	if q.OrderBy != "" {
		path, err := jsonPath(q.OrderBy)
		if err != nil {
			return nil, err
		}
		sb.WriteString(orderByClause(q.Descending))
		args = append(args, path, path, path)
	} else {
		sb.WriteString(` ORDER BY id`)
	}

	rows, err := m.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []port.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection.Path(), id, err)
		}
		docs = append(docs, port.Document{Ref: q.Collection.Doc(id), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (m *MySQLAdapter) Create(ctx context.Context, ref port.DocRef, data map[string]any) (string, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if err := m.Batch(ctx, []port.BatchOp{port.CreateOp(ref, data)}); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (m *MySQLAdapter) Update(ctx context.Context, ref port.DocRef, data map[string]any) error {
	return m.Batch(ctx, []port.BatchOp{port.UpdateOp(ref, data)})
}

func (m *MySQLAdapter) Delete(ctx context.Context, ref port.DocRef) error {
	return m.Batch(ctx, []port.BatchOp{port.DeleteOp(ref)})
}

func (m *MySQLAdapter) Increment(ctx context.Context, ref port.DocRef, field string, delta int64) (int64, error) {
	path, err := jsonPath(field)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.execOp(ctx, tx, port.IncrementOp(ref, field, delta)); err != nil {
		return 0, err
	}

	var value int64
	err = tx.QueryRowContext(ctx, `
		SELECT CAST(JSON_UNQUOTE(JSON_EXTRACT(data, ?)) AS SIGNED)
		FROM documents WHERE collection = ? AND id = ?`,
		path, ref.Coll.Path(), ref.ID,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read incremented value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return value, nil
}

// Batch runs every operation in one transaction.
func (m *MySQLAdapter) Batch(ctx context.Context, ops []port.BatchOp) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := m.execOp(ctx, tx, op); err != nil {
			return fmt.Errorf("batch op %d (%s %s): %w", i, op.Kind, op.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) execOp(ctx context.Context, tx *sql.Tx, op port.BatchOp) error {
	coll, id := op.Ref.Coll.Path(), op.Ref.ID

	switch op.Kind {
	case port.OpCreate:
		raw, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
			coll, id, raw,
		)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return port.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

	case port.OpUpdate:
		if err := lockRow(ctx, tx, coll, id); err != nil {
			return err
		}
		raw, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET data = JSON_MERGE_PATCH(data, ?)
			WHERE collection = ? AND id = ?`,
			raw, coll, id,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}

	case port.OpDelete:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE collection = ? AND id = ?`,
			coll, id,
		)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}

	case port.OpIncrement:
		path, err := jsonPath(op.Field)
		if err != nil {
			return err
		}
		if err := lockRow(ctx, tx, coll, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET data = JSON_SET(data, ?, COALESCE(CAST(JSON_UNQUOTE(JSON_EXTRACT(data, ?)) AS SIGNED), 0) + ?)
			WHERE collection = ? AND id = ?`,
			path, path, op.Delta, coll, id,
		)
		if err != nil {
			return fmt.Errorf("increment %s: %w", op.Field, err)
		}

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func lockRow(ctx context.Context, tx *sql.Tx, coll, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM documents WHERE collection = ? AND id = ? FOR UPDATE`,
		coll, id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	return nil
}

// orderByClause sorts RFC 3339 timestamps chronologically. Go trims trailing
// zeros from the fraction, so their text order is not their time order.
// Other values fall through to the JSON comparison.
func orderByClause(desc bool) string {
	dir := ""
	if desc {
		dir = " DESC"
	}
	return ` ORDER BY CASE WHEN JSON_UNQUOTE(JSON_EXTRACT(data, ?)) REGEXP '^[0-9]{4}-[0-9]{2}-[0-9]{2}T'` +
		` THEN CAST(REPLACE(SUBSTRING_INDEX(JSON_UNQUOTE(JSON_EXTRACT(data, ?)), 'Z', 1), 'T', ' ') AS DATETIME(6)) END` + dir +
		`, JSON_EXTRACT(data, ?)` + dir
}

func jsonPath(field string) (string, error) {
	if !fieldNamePattern.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return "$." + field, nil
}

func filterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func decodeRow(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
