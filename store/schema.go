package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Corpus-wide settings: name, description, user type, primary document,
-- per-document display names and reference grammars
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Document text in document order; heading rows carry section titles
CREATE TABLE IF NOT EXISTS contents (
    id INTEGER PRIMARY KEY,
    document TEXT NOT NULL,
    section_reference TEXT NOT NULL,
    heading INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL
);

-- Definition index: searchable text plus the definition it resolves to
CREATE TABLE IF NOT EXISTS definitions (
    id INTEGER PRIMARY KEY,
    document TEXT NOT NULL,
    section_reference TEXT NOT NULL,
    text TEXT NOT NULL,
    definition TEXT NOT NULL
);

-- Section index: searchable text per section, tagged with where it came from
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    document TEXT NOT NULL,
    section_reference TEXT NOT NULL,
    source TEXT NOT NULL,
    text TEXT NOT NULL
);

-- Workflow trigger phrases
CREATE TABLE IF NOT EXISTS workflows (
    id INTEGER PRIMARY KEY,
    workflow TEXT NOT NULL,
    text TEXT NOT NULL
);

-- Vector embeddings via sqlite-vec, one virtual table per index kind
CREATE VIRTUAL TABLE IF NOT EXISTS vec_definitions USING vec0(
    definition_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    section_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_workflows USING vec0(
    workflow_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_contents_document ON contents(document);
CREATE INDEX IF NOT EXISTS idx_definitions_document ON definitions(document);
CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document);
`, embeddingDim, embeddingDim, embeddingDim)
}
