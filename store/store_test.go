//go:build cgo

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/corpuschat/corpus"
)

func newTestStore(t *testing.T, secret string) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 3, secret) // dim=3 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMeta() map[string]string {
	return map[string]string{
		corpus.MetaName:                   "navigating",
		corpus.MetaDescription:            "the Simplest way to Navigate Plett",
		corpus.MetaUserType:               "a Visitor",
		corpus.MetaPrimaryDocument:        "WRR",
		corpus.MetaDocumentName("WRR"):    "Navigating Whale Rock Ridge",
		corpus.MetaCheckerPatterns("WRR"): `["^[1-9]", "^\\.[1-9]"]`,
		corpus.MetaCheckerDescribe("WRR"): "1.2",
	}
}

func sampleContents() map[string][]corpus.Row {
	return map[string][]corpus.Row{
		"WRR": {
			{SectionReference: "1", Heading: true, Text: "Navigating Whale Rock Ridge"},
			{SectionReference: "1.1", Heading: true, Text: "To West Gate"},
			{SectionReference: "1.1", Heading: false, Text: "Turn right out driveway. Proceed to West Gate"},
			{SectionReference: "1.2", Heading: true, Text: "To Main Gate"},
			{SectionReference: "1.2", Heading: false, Text: "Turn left out driveway. Proceed to Gate"},
		},
	}
}

func sampleIndex() ([]corpus.DefinitionRow, []corpus.SectionRow, []corpus.WorkflowRow) {
	defs := []corpus.DefinitionRow{
		{
			Document:         "WRR",
			SectionReference: "1",
			Text:             "What is the Gate?",
			Definition:       "The Gate: the access boom at the estate entrance",
			Embedding:        []float32{1, 0, 0},
		},
	}
	secs := []corpus.SectionRow{
		{Document: "WRR", SectionReference: "1.2", Source: "question", Text: "How do I get to the Main Gate?", Embedding: []float32{0, 1, 0}},
		{Document: "WRR", SectionReference: "1.1", Source: "summary", Text: "Directions to the West Gate"},
	}
	wfs := []corpus.WorkflowRow{
		{Workflow: "map", Text: "Can you show this on a map?", Embedding: []float32{0, 0, 1}},
	}
	return defs, secs, wfs
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNewOnFreshDatabase(t *testing.T) {
	s := newTestStore(t, "")
	meta, err := s.Meta(context.Background())
	if err != nil {
		t.Fatalf("reading meta: %v", err)
	}
	if len(meta) != 0 {
		t.Errorf("fresh store meta = %v, want empty", meta)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 3, "")
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestNewRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name   string
		dim    int
		secret string
	}{
		{"zero dimension", 0, ""},
		{"negative dimension", -3, ""},
		{"malformed secret", 3, "%%%not-base64%%%"},
		{"short secret", 3, base64.StdEncoding.EncodeToString(make([]byte, 16))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "test.db")
			if _, err := New(dbPath, tt.dim, tt.secret); err == nil {
				t.Errorf("New(dim=%d, secret=%q): expected error", tt.dim, tt.secret)
			}
		})
	}
}

func TestReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 3, "")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	ctx := context.Background()
	if err := s.SaveCorpus(ctx, sampleMeta(), sampleContents()); err != nil {
		t.Fatalf("saving corpus: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	s2, err := New(dbPath, 3, "")
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s2.Close()
	c, err := s2.LoadCorpus(ctx)
	if err != nil {
		t.Fatalf("loading corpus after reopen: %v", err)
	}
	if c.Primary() != "WRR" {
		t.Errorf("primary document = %q, want %q", c.Primary(), "WRR")
	}
}

// ---------------------------------------------------------------------------
// Corpus round trip
// ---------------------------------------------------------------------------

func TestLoadCorpusEmpty(t *testing.T) {
	s := newTestStore(t, "")
	_, err := s.LoadCorpus(context.Background())
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("LoadCorpus on a fresh store: error = %v, want ErrEmpty", err)
	}
}

func TestSaveLoadCorpus(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	if err := s.SaveCorpus(ctx, sampleMeta(), sampleContents()); err != nil {
		t.Fatalf("saving corpus: %v", err)
	}
	c, err := s.LoadCorpus(ctx)
	if err != nil {
		t.Fatalf("loading corpus: %v", err)
	}

	if c.Primary() != "WRR" {
		t.Errorf("primary document = %q, want %q", c.Primary(), "WRR")
	}
	doc, err := c.Document("WRR")
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if doc.Name() != "Navigating Whale Rock Ridge" {
		t.Errorf("document name = %q", doc.Name())
	}

	// The reference grammar is rebuilt from the checker meta rows.
	if !doc.Checker().IsValid("1.2") {
		t.Error("rebuilt checker rejects 1.2")
	}
	if doc.Checker().IsValid("1.2.3") {
		t.Error("rebuilt checker accepts a three-level reference under a two-level grammar")
	}

	text, err := c.Text("WRR", "1.2", corpus.TextOptions{Headings: true})
	if err != nil {
		t.Fatalf("reading section text: %v", err)
	}
	if !strings.Contains(text, "Turn left out driveway") {
		t.Errorf("section 1.2 text = %q", text)
	}

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatalf("reading meta: %v", err)
	}
	if meta[corpus.MetaUserType] != "a Visitor" {
		t.Errorf("meta user type = %q", meta[corpus.MetaUserType])
	}
}

func TestSaveCorpusReplaces(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	if err := s.SaveCorpus(ctx, sampleMeta(), sampleContents()); err != nil {
		t.Fatalf("saving corpus: %v", err)
	}

	meta := map[string]string{
		corpus.MetaPrimaryDocument: "Other",
	}
	contents := map[string][]corpus.Row{
		"Other": {{SectionReference: "", Heading: false, Text: "A single blob document."}},
	}
	if err := s.SaveCorpus(ctx, meta, contents); err != nil {
		t.Fatalf("saving replacement corpus: %v", err)
	}

	c, err := s.LoadCorpus(ctx)
	if err != nil {
		t.Fatalf("loading corpus: %v", err)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "Other" {
		t.Errorf("corpus keys = %v, want [Other]", keys)
	}
	loaded, err := s.Meta(ctx)
	if err != nil {
		t.Fatalf("reading meta: %v", err)
	}
	if _, ok := loaded[corpus.MetaUserType]; ok {
		t.Error("old meta rows survived the replacement")
	}
}

// ---------------------------------------------------------------------------
// Index round trip
// ---------------------------------------------------------------------------

func TestSaveLoadIndex(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	defs, secs, wfs := sampleIndex()
	if err := s.SaveIndex(ctx, defs, secs, wfs); err != nil {
		t.Fatalf("saving index: %v", err)
	}

	gotDefs, gotSecs, gotWfs, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	if !reflect.DeepEqual(gotDefs, defs) {
		t.Errorf("definitions:\n got %#v\nwant %#v", gotDefs, defs)
	}
	if !reflect.DeepEqual(gotSecs, secs) {
		t.Errorf("sections:\n got %#v\nwant %#v", gotSecs, secs)
	}
	if !reflect.DeepEqual(gotWfs, wfs) {
		t.Errorf("workflows:\n got %#v\nwant %#v", gotWfs, wfs)
	}
	if gotSecs[1].Embedding != nil {
		t.Errorf("section without a vector loaded embedding %v", gotSecs[1].Embedding)
	}
}

func TestSaveIndexReplaces(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	defs, secs, wfs := sampleIndex()
	if err := s.SaveIndex(ctx, defs, secs, wfs); err != nil {
		t.Fatalf("saving index: %v", err)
	}
	if err := s.SaveIndex(ctx, defs, secs, wfs); err != nil {
		t.Fatalf("saving index again: %v", err)
	}

	gotDefs, gotSecs, gotWfs, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	if len(gotDefs) != 1 || len(gotSecs) != 2 || len(gotWfs) != 1 {
		t.Errorf("row counts after re-save = %d/%d/%d, want 1/2/1",
			len(gotDefs), len(gotSecs), len(gotWfs))
	}
}

func TestSaveIndexRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	secs := []corpus.SectionRow{
		{Document: "WRR", SectionReference: "1", Source: "question", Text: "x", Embedding: []float32{1, 0}},
	}
	if err := s.SaveIndex(ctx, nil, secs, nil); err == nil {
		t.Fatal("expected an error for a 2-dim embedding in a 3-dim store")
	}

	// The failed save rolled back completely.
	_, gotSecs, _, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	if len(gotSecs) != 0 {
		t.Errorf("rolled-back save left %d section rows", len(gotSecs))
	}
}

// ---------------------------------------------------------------------------
// Encryption
// ---------------------------------------------------------------------------

func TestEncryptionAtRest(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("generating secret: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "enc.db")
	s, err := New(dbPath, 3, secret)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.SaveCorpus(ctx, sampleMeta(), sampleContents()); err != nil {
		t.Fatalf("saving corpus: %v", err)
	}
	defs, secs, wfs := sampleIndex()
	if err := s.SaveIndex(ctx, defs, secs, wfs); err != nil {
		t.Fatalf("saving index: %v", err)
	}

	// Raw rows on disk carry ciphertext only.
	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening raw db: %v", err)
	}
	defer raw.Close()
	for _, q := range []string{
		"SELECT text FROM contents",
		"SELECT text FROM definitions",
		"SELECT definition FROM definitions",
		"SELECT text FROM sections",
		"SELECT text FROM workflows",
	} {
		rows, err := raw.Query(q)
		if err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		for rows.Next() {
			var cell string
			if err := rows.Scan(&cell); err != nil {
				t.Fatalf("%s: scanning: %v", q, err)
			}
			if !strings.HasPrefix(cell, encPrefix) {
				t.Errorf("%s: cell %q is not encrypted", q, cell)
			}
			if strings.Contains(cell, "Turn left out driveway") {
				t.Errorf("%s: cell leaks plaintext: %q", q, cell)
			}
		}
		rows.Close()
	}

	// Loads through the store decrypt transparently.
	c, err := s.LoadCorpus(ctx)
	if err != nil {
		t.Fatalf("loading corpus: %v", err)
	}
	text, err := c.Text("WRR", "1.2", corpus.TextOptions{})
	if err != nil {
		t.Fatalf("reading section text: %v", err)
	}
	if !strings.Contains(text, "Turn left out driveway") {
		t.Errorf("decrypted section text = %q", text)
	}
	gotDefs, _, _, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	if gotDefs[0].Definition != defs[0].Definition {
		t.Errorf("decrypted definition = %q", gotDefs[0].Definition)
	}
}

func TestEncryptedCellsNeedTheirSecret(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("generating secret: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "enc.db")
	s, err := New(dbPath, 3, secret)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	ctx := context.Background()
	if err := s.SaveCorpus(ctx, sampleMeta(), sampleContents()); err != nil {
		t.Fatalf("saving corpus: %v", err)
	}
	s.Close()

	noSecret, err := New(dbPath, 3, "")
	if err != nil {
		t.Fatalf("reopening without secret: %v", err)
	}
	defer noSecret.Close()
	if _, err := noSecret.LoadCorpus(ctx); err == nil {
		t.Error("loading encrypted cells without a secret succeeded")
	}

	other, err := NewSecret()
	if err != nil {
		t.Fatalf("generating second secret: %v", err)
	}
	wrongSecret, err := New(dbPath, 3, other)
	if err != nil {
		t.Fatalf("reopening with wrong secret: %v", err)
	}
	defer wrongSecret.Close()
	if _, err := wrongSecret.LoadCorpus(ctx); err == nil {
		t.Error("loading encrypted cells with the wrong secret succeeded")
	}
}

func TestTextCipherRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("generating secret: %v", err)
	}
	c, err := newTextCipher(secret)
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}

	sealed, err := c.seal("Turn left out driveway")
	if err != nil {
		t.Fatalf("sealing: %v", err)
	}
	if !strings.HasPrefix(sealed, encPrefix) {
		t.Errorf("sealed cell = %q, want %s prefix", sealed, encPrefix)
	}
	got, err := c.open(sealed)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	if got != "Turn left out driveway" {
		t.Errorf("round trip = %q", got)
	}

	// Plaintext cells pass through; they predate encryption being enabled.
	if got, err := c.open("already plain"); err != nil || got != "already plain" {
		t.Errorf("plaintext passthrough = %q, %v", got, err)
	}

	// Random nonces: sealing the same text twice differs.
	sealed2, err := c.seal("Turn left out driveway")
	if err != nil {
		t.Fatalf("sealing again: %v", err)
	}
	if sealed == sealed2 {
		t.Error("two seals of the same text are identical")
	}

	// A nil cipher stores and loads plaintext unchanged.
	var off *textCipher
	if got, err := off.seal("plain"); err != nil || got != "plain" {
		t.Errorf("nil cipher seal = %q, %v", got, err)
	}
	if _, err := off.open(sealed); err == nil {
		t.Error("nil cipher opened an encrypted cell")
	}
}
