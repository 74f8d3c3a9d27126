// Package sqlite persists project directory trees so a restarted server
// resumes from the last accepted snapshot.
package sqlite

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/tree"
)

var _ tree.Persister = &Store{}

// Schema is the SQL that New executes.
// A node's (parent, name) pair is unique within a project, mirroring the
// sibling-name rule of the in-memory tree.
const Schema = `
CREATE TABLE IF NOT EXISTS tree_nodes (
  group_id TEXT NOT NULL,
  project_id TEXT NOT NULL,
  id INTEGER NOT NULL,
  parent_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  kind TEXT NOT NULL,
  PRIMARY KEY (group_id, project_id, id),
  UNIQUE (group_id, project_id, parent_id, name)
);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path. ":memory:" yields a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// One connection: sqlite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "enabling WAL mode")
		}
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New produces a Store using db, creating the tree_nodes table if needed.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load implements tree.Persister.Load.
func (s *Store) Load(ctx context.Context, project domain.ProjectKey) ([]tree.NodeRecord, error) {
	const q = `SELECT id, parent_id, name, kind FROM tree_nodes WHERE group_id = ? AND project_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, project.GroupID, project.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying nodes of %s", project)
	}
	defer rows.Close()

	var out []tree.NodeRecord
	for rows.Next() {
		var (
			rec  tree.NodeRecord
			kind string
		)
		if err := rows.Scan(&rec.ID, &rec.Parent, &rec.Name, &kind); err != nil {
			return nil, errors.Wrap(err, "scanning node")
		}
		rec.Kind = domain.NodeKind(kind)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterating nodes")
}

// Insert implements tree.Persister.Insert.
func (s *Store) Insert(ctx context.Context, project domain.ProjectKey, rec tree.NodeRecord) error {
	const q = `INSERT INTO tree_nodes (group_id, project_id, id, parent_id, name, kind) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q, project.GroupID, project.ProjectID, rec.ID, rec.Parent, rec.Name, string(rec.Kind))
	return errors.Wrapf(err, "inserting node %d", rec.ID)
}

// Delete implements tree.Persister.Delete. All ids go in one transaction.
func (s *Store) Delete(ctx context.Context, project domain.ProjectKey, ids []domain.NodeID) (err error) {
	const q = `DELETE FROM tree_nodes WHERE group_id = ? AND project_id = ? AND id = ?`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, q, project.GroupID, project.ProjectID, id); err != nil {
			return errors.Wrapf(err, "deleting node %d", id)
		}
	}
	return errors.Wrap(tx.Commit(), "committing delete")
}

// Rename implements tree.Persister.Rename.
func (s *Store) Rename(ctx context.Context, project domain.ProjectKey, id domain.NodeID, name string) error {
	const q = `UPDATE tree_nodes SET name = ? WHERE group_id = ? AND project_id = ? AND id = ?`

	res, err := s.db.ExecContext(ctx, q, name, project.GroupID, project.ProjectID, id)
	if err != nil {
		return errors.Wrapf(err, "renaming node %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting renamed rows")
	}
	if n != 1 {
		return errors.Errorf("renaming node %d: %d rows affected", id, n)
	}
	return nil
}
