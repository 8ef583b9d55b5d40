// Package postgres implements storage.DocumentStore on PostgreSQL table
// inheritance. The parent table is named after the prefix and never holds
// rows; each monthly partition is a child table, so a query on the parent
// reads every partition.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	pgclient "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/postgres"
)

const (
	// duplicateTable is the SQLSTATE for CREATE TABLE on an existing name.
	duplicateTable = "42P07"
	// uniqueViolation is what a CREATE TABLE racing another uncommitted one
	// on the same name gets from the pg_type catalog index.
	uniqueViolation = "23505"
)

const columns = `id, ts, event_name, raw, item_id, parent_id, version, language, field_ids, changed_fields, editor, sitecore_instance`

// Store persists records into inherited monthly tables.
type Store struct {
	db     *pgclient.Client
	parent string
	logger *slog.Logger
}

// Open creates the parent table for prefix if needed and returns a Store.
func Open(ctx context.Context, db *pgclient.Client, prefix string) (*Store, error) {
	s := &Store{
		db:     db,
		parent: prefix,
		logger: logger.WithComponent("postgres-store"),
	}
	_, err := db.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+pq.QuoteIdentifier(prefix)+` (
		id                UUID        NOT NULL,
		ts                TIMESTAMPTZ NOT NULL,
		event_name        TEXT        NOT NULL,
		raw               TEXT        NOT NULL,
		item_id           UUID        NOT NULL,
		parent_id         UUID        NOT NULL,
		version           INTEGER     NOT NULL,
		language          TEXT,
		field_ids         UUID[]      NOT NULL,
		changed_fields    TEXT,
		editor            TEXT,
		sitecore_instance TEXT        NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating parent table %s: %w", prefix, err)
	}
	return s, nil
}

// CreatePartition creates a child table of the parent. Postgres has no
// replica setting per table, so replicas is ignored. Concurrent creators of
// one name are serialized on a transaction-scoped advisory lock, so all but
// the first see ErrPartitionExists.
func (s *Store) CreatePartition(ctx context.Context, name string, replicas int) error {
	table := pq.QuoteIdentifier(name)
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
			return fmt.Errorf("locking %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`CREATE TABLE `+table+` (PRIMARY KEY (id)) INHERITS (`+pq.QuoteIdentifier(s.parent)+`)`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `CREATE INDEX ON `+table+` (item_id, ts DESC)`)
		return err
	})
	if isDuplicateTable(err) {
		return fmt.Errorf("table %s: %w", name, storage.ErrPartitionExists)
	}
	if err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}
	s.logger.Debug("partition table created", "table", name, "replicas_ignored", replicas)
	return nil
}

func (s *Store) DeletePartition(ctx context.Context, name string) error {
	if _, err := s.db.DB.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("dropping table %s: %w", name, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, partition string, id uuid.UUID, rec *audit.IndexedRecord) error {
	fieldIDs := make(pq.StringArray, 0, len(rec.FieldIDs))
	for _, f := range rec.FieldIDs {
		fieldIDs = append(fieldIDs, f.String())
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO `+pq.QuoteIdentifier(partition)+` (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, rec.Timestamp, rec.EventName, rec.Raw, rec.ItemID, rec.ParentID, rec.Version,
		rec.Language, fieldIDs, rec.ChangedFields, rec.User, rec.SitecoreInstance,
	)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", partition, err)
	}
	return nil
}

// Search reads through the parent table. q.Pattern is not consulted: the
// parent already spans exactly the partitions of this prefix.
func (s *Store) Search(ctx context.Context, q storage.Query) ([]audit.IndexedRecord, error) {
	query, args := buildSelect(s.parent, q)
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.parent, err)
	}
	defer rows.Close()

	var recs []audit.IndexedRecord
	for rows.Next() {
		var (
			rec      audit.IndexedRecord
			language sql.NullString
			changed  sql.NullString
			editor   sql.NullString
			fieldIDs pq.StringArray
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.EventName, &rec.Raw, &rec.ItemID, &rec.ParentID,
			&rec.Version, &language, &fieldIDs, &changed, &editor, &rec.SitecoreInstance); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Language = nullable(language)
		rec.ChangedFields = nullable(changed)
		rec.User = nullable(editor)
		rec.FieldIDs = make([]uuid.UUID, 0, len(fieldIDs))
		for _, f := range fieldIDs {
			id, err := uuid.Parse(f)
			if err != nil {
				return nil, fmt.Errorf("parsing field id %q: %w", f, err)
			}
			rec.FieldIDs = append(rec.FieldIDs, id)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func buildSelect(parent string, q storage.Query) (string, []any) {
	var b strings.Builder
	args := []any{q.ItemID}
	b.WriteString(`SELECT ` + columns + ` FROM ` + pq.QuoteIdentifier(parent) + ` WHERE item_id = $1`)
	if q.Language != nil {
		args = append(args, *q.Language)
		fmt.Fprintf(&b, ` AND language = $%d`, len(args))
	}
	if q.Version != nil {
		args = append(args, *q.Version)
		fmt.Fprintf(&b, ` AND version = $%d`, len(args))
	}
	b.WriteString(` ORDER BY ts DESC`)
	if q.Size > 0 {
		args = append(args, q.Size)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

func isDuplicateTable(err error) bool {
	return pgclient.HasCode(err, duplicateTable) || pgclient.HasCode(err, uniqueViolation)
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
