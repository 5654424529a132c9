// Package store persists a corpus and its retrieval index in SQLite.
// Document text and index rows live in ordinary tables; embeddings live in
// sqlite-vec virtual tables keyed by the row ids. Text cells are encrypted
// at rest when the store is opened with a secret.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/corpuschat/corpus"
)

func init() {
	sqlite_vec.Auto()
}

// ErrEmpty reports that the store holds no corpus yet.
var ErrEmpty = errors.New("store: empty")

// Store wraps the SQLite database for all corpuschat persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	cipher       *textCipher
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual tables. A
// non-empty secret enables at-rest text encryption; see NewSecret.
func New(dbPath string, embeddingDim int, secret string) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("store: embedding dimension must be positive, got %d", embeddingDim)
	}
	cipher, err := newTextCipher(secret)
	if err != nil {
		return nil, err
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim, cipher: cipher}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Meta returns the meta table as a map. A fresh store returns an empty map.
func (s *Store) Meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("store: reading meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scanning meta row: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// SaveCorpus replaces the stored corpus: the meta table and every
// document's contents rows, kept in document order.
func (s *Store) SaveCorpus(ctx context.Context, meta map[string]string, contents map[string][]corpus.Row) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"meta", "contents"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		metaStmt, err := tx.PrepareContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer metaStmt.Close()
		metaKeys := make([]string, 0, len(meta))
		for k := range meta {
			metaKeys = append(metaKeys, k)
		}
		sort.Strings(metaKeys)
		for _, key := range metaKeys {
			if _, err := metaStmt.ExecContext(ctx, key, meta[key]); err != nil {
				return fmt.Errorf("inserting meta %q: %w", key, err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO contents (document, section_reference, heading, text)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		docs := make([]string, 0, len(contents))
		for doc := range contents {
			docs = append(docs, doc)
		}
		sort.Strings(docs)
		for _, doc := range docs {
			for _, r := range contents[doc] {
				text, err := s.cipher.seal(r.Text)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, doc, r.SectionReference, r.Heading, text); err != nil {
					return fmt.Errorf("inserting contents row for %s: %w", doc, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: saving corpus: %w", err)
	}
	return nil
}

// LoadCorpus reassembles the corpus from the meta and contents tables. It
// returns an error wrapping ErrEmpty when no corpus has been saved.
func (s *Store) LoadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	meta, err := s.Meta(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document, section_reference, heading, text
		FROM contents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: reading contents: %w", err)
	}
	defer rows.Close()

	contents := make(map[string][]corpus.Row)
	for rows.Next() {
		var doc string
		var r corpus.Row
		if err := rows.Scan(&doc, &r.SectionReference, &r.Heading, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scanning contents row: %w", err)
		}
		if r.Text, err = s.cipher.open(r.Text); err != nil {
			return nil, err
		}
		contents[doc] = append(contents[doc], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading contents: %w", err)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: no corpus saved", ErrEmpty)
	}
	return corpus.FromTables(meta, contents)
}

// SaveIndex replaces the index tables and their embeddings. Embeddings
// must match the store's configured dimension; a row with no embedding is
// stored without a vector so a later pass can fill it.
func (s *Store) SaveIndex(ctx context.Context, definitions []corpus.DefinitionRow, sections []corpus.SectionRow, workflows []corpus.WorkflowRow) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"definitions", "sections", "workflows", "vec_definitions", "vec_sections", "vec_workflows"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		if err := s.saveDefinitions(ctx, tx, definitions); err != nil {
			return err
		}
		if err := s.saveSections(ctx, tx, sections); err != nil {
			return err
		}
		return s.saveWorkflows(ctx, tx, workflows)
	})
	if err != nil {
		return fmt.Errorf("store: saving index: %w", err)
	}
	return nil
}

func (s *Store) saveDefinitions(ctx context.Context, tx *sql.Tx, rows []corpus.DefinitionRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO definitions (document, section_reference, text, definition)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_definitions (definition_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, r := range rows {
		text, err := s.cipher.seal(r.Text)
		if err != nil {
			return err
		}
		definition, err := s.cipher.seal(r.Definition)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, r.Document, r.SectionReference, text, definition)
		if err != nil {
			return fmt.Errorf("inserting definition %d: %w", i, err)
		}
		if len(r.Embedding) == 0 {
			continue
		}
		if len(r.Embedding) != s.embeddingDim {
			return fmt.Errorf("definition %d: embedding has %d dimensions, want %d", i, len(r.Embedding), s.embeddingDim)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(r.Embedding)); err != nil {
			return fmt.Errorf("inserting definition embedding %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) saveSections(ctx context.Context, tx *sql.Tx, rows []corpus.SectionRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sections (document, section_reference, source, text)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_sections (section_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, r := range rows {
		text, err := s.cipher.seal(r.Text)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, r.Document, r.SectionReference, r.Source, text)
		if err != nil {
			return fmt.Errorf("inserting section %d: %w", i, err)
		}
		if len(r.Embedding) == 0 {
			continue
		}
		if len(r.Embedding) != s.embeddingDim {
			return fmt.Errorf("section %d: embedding has %d dimensions, want %d", i, len(r.Embedding), s.embeddingDim)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(r.Embedding)); err != nil {
			return fmt.Errorf("inserting section embedding %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) saveWorkflows(ctx context.Context, tx *sql.Tx, rows []corpus.WorkflowRow) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO workflows (workflow, text) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_workflows (workflow_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, r := range rows {
		text, err := s.cipher.seal(r.Text)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, r.Workflow, text)
		if err != nil {
			return fmt.Errorf("inserting workflow %d: %w", i, err)
		}
		if len(r.Embedding) == 0 {
			continue
		}
		if len(r.Embedding) != s.embeddingDim {
			return fmt.Errorf("workflow %d: embedding has %d dimensions, want %d", i, len(r.Embedding), s.embeddingDim)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(r.Embedding)); err != nil {
			return fmt.Errorf("inserting workflow embedding %d: %w", i, err)
		}
	}
	return nil
}

// LoadIndex reads the definition, section and workflow index rows with
// their embeddings. Rows without a stored vector get a nil embedding.
func (s *Store) LoadIndex(ctx context.Context) ([]corpus.DefinitionRow, []corpus.SectionRow, []corpus.WorkflowRow, error) {
	defs, err := s.loadDefinitions(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	secs, err := s.loadSections(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	wfs, err := s.loadWorkflows(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return defs, secs, wfs, nil
}

func (s *Store) loadDefinitions(ctx context.Context) ([]corpus.DefinitionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.document, d.section_reference, d.text, d.definition, v.embedding
		FROM definitions d
		LEFT JOIN vec_definitions v ON v.definition_id = d.id
		ORDER BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: reading definitions: %w", err)
	}
	defer rows.Close()

	var defs []corpus.DefinitionRow
	for rows.Next() {
		var r corpus.DefinitionRow
		var blob []byte
		if err := rows.Scan(&r.Document, &r.SectionReference, &r.Text, &r.Definition, &blob); err != nil {
			return nil, fmt.Errorf("store: scanning definition row: %w", err)
		}
		if r.Text, err = s.cipher.open(r.Text); err != nil {
			return nil, err
		}
		if r.Definition, err = s.cipher.open(r.Definition); err != nil {
			return nil, err
		}
		r.Embedding = deserializeFloat32(blob)
		defs = append(defs, r)
	}
	return defs, rows.Err()
}

func (s *Store) loadSections(ctx context.Context) ([]corpus.SectionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.document, sec.section_reference, sec.source, sec.text, v.embedding
		FROM sections sec
		LEFT JOIN vec_sections v ON v.section_id = sec.id
		ORDER BY sec.id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: reading sections: %w", err)
	}
	defer rows.Close()

	var secs []corpus.SectionRow
	for rows.Next() {
		var r corpus.SectionRow
		var blob []byte
		if err := rows.Scan(&r.Document, &r.SectionReference, &r.Source, &r.Text, &blob); err != nil {
			return nil, fmt.Errorf("store: scanning section row: %w", err)
		}
		if r.Text, err = s.cipher.open(r.Text); err != nil {
			return nil, err
		}
		r.Embedding = deserializeFloat32(blob)
		secs = append(secs, r)
	}
	return secs, rows.Err()
}

func (s *Store) loadWorkflows(ctx context.Context) ([]corpus.WorkflowRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.workflow, w.text, v.embedding
		FROM workflows w
		LEFT JOIN vec_workflows v ON v.workflow_id = w.id
		ORDER BY w.id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: reading workflows: %w", err)
	}
	defer rows.Close()

	var wfs []corpus.WorkflowRow
	for rows.Next() {
		var r corpus.WorkflowRow
		var blob []byte
		if err := rows.Scan(&r.Workflow, &r.Text, &blob); err != nil {
			return nil, fmt.Errorf("store: scanning workflow row: %w", err)
		}
		if r.Text, err = s.cipher.open(r.Text); err != nil {
			return nil, err
		}
		r.Embedding = deserializeFloat32(blob)
		wfs = append(wfs, r)
	}
	return wfs, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
