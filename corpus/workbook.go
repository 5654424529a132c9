package corpus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/corpuschat/reference"
)

// Sheet names of a corpus workbook. The workbook is a serialization of the
// store tables, not authoring tooling: no chunking or validation happens
// here beyond reference checks at document construction.
const (
	sheetMeta        = "meta"
	sheetContents    = "contents"
	sheetDefinitions = "definitions"
	sheetSections    = "sections"
	sheetWorkflows   = "workflows"
)

// Meta keys recognized in workbook and store meta tables.
const (
	MetaName            = "name"
	MetaDescription     = "corpus_description"
	MetaUserType        = "user_type"
	MetaPrimaryDocument = "primary_document"
)

// MetaDocumentName is the meta key holding the display name for a document.
func MetaDocumentName(key string) string { return "document." + key + ".name" }

// MetaCheckerPatterns is the meta key holding a document's reference grammar
// as a JSON array of per-level patterns.
func MetaCheckerPatterns(key string) string { return "checker." + key + ".patterns" }

// MetaCheckerExclusions is the meta key holding a document's exclusion
// literals as a JSON array.
func MetaCheckerExclusions(key string) string { return "checker." + key + ".exclusions" }

// MetaCheckerDescribe is the meta key holding a document's sample reference.
func MetaCheckerDescribe(key string) string { return "checker." + key + ".describe" }

// Workbook holds the tables read from a pre-authored corpus workbook.
// Embedding cells are JSON float arrays and may be empty; missing vectors
// are filled later by the loader command.
type Workbook struct {
	Meta        map[string]string
	Contents    map[string][]Row
	Definitions []DefinitionRow
	Sections    []SectionRow
	Workflows   []WorkflowRow
}

// LoadWorkbook reads a corpus workbook from disk. The meta and contents
// sheets are required; definitions, sections, and workflows are optional.
func LoadWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: opening workbook: %w", err)
	}
	defer f.Close()

	w := &Workbook{
		Meta:     make(map[string]string),
		Contents: make(map[string][]Row),
	}

	if err := w.readMeta(f); err != nil {
		return nil, err
	}
	if err := w.readContents(f); err != nil {
		return nil, err
	}
	if err := w.readDefinitions(f); err != nil {
		return nil, err
	}
	if err := w.readSections(f); err != nil {
		return nil, err
	}
	if err := w.readWorkflows(f); err != nil {
		return nil, err
	}
	return w, nil
}

// BuildCorpus assembles the workbook's contents into documents and a
// corpus.
func (w *Workbook) BuildCorpus() (*Corpus, error) {
	return FromTables(w.Meta, w.Contents)
}

// FromTables assembles serialized meta and contents tables into a corpus.
// Workbook and store loads share it. Each document's grammar comes from its
// checker.* meta entries; a document without patterns gets the empty
// grammar and is addressed as one blob.
func FromTables(meta map[string]string, contents map[string][]Row) (*Corpus, error) {
	docs := make(map[string]Document, len(contents))
	for key, rows := range contents {
		checker, err := checkerFromMeta(meta, key)
		if err != nil {
			return nil, err
		}
		name := meta[MetaDocumentName(key)]
		if name == "" {
			name = key
		}
		doc, err := NewTable(name, checker, rows)
		if err != nil {
			return nil, err
		}
		docs[key] = doc
	}
	return New(docs, meta[MetaPrimaryDocument])
}

func checkerFromMeta(meta map[string]string, key string) (reference.Checker, error) {
	raw := meta[MetaCheckerPatterns(key)]
	if raw == "" {
		return reference.NewEmpty(), nil
	}
	var patterns []string
	if err := json.Unmarshal([]byte(raw), &patterns); err != nil {
		return nil, fmt.Errorf("corpus: checker patterns for %q: %w", key, err)
	}
	var exclusions []string
	if raw := meta[MetaCheckerExclusions(key)]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &exclusions); err != nil {
			return nil, fmt.Errorf("corpus: checker exclusions for %q: %w", key, err)
		}
	}
	return reference.New(patterns, meta[MetaCheckerDescribe(key)], exclusions)
}

func (w *Workbook) readMeta(f *excelize.File) error {
	rows, err := f.GetRows(sheetMeta)
	if err != nil {
		return fmt.Errorf("corpus: reading %s sheet: %w", sheetMeta, err)
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		value := ""
		if len(row) > 1 {
			value = row[1]
		}
		w.Meta[strings.TrimSpace(row[0])] = value
	}
	return nil
}

func (w *Workbook) readContents(f *excelize.File) error {
	rows, err := f.GetRows(sheetContents)
	if err != nil {
		return fmt.Errorf("corpus: reading %s sheet: %w", sheetContents, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("corpus: %s sheet is empty", sheetContents)
	}
	idx := headerIndex(rows[0])
	for i, row := range rows[1:] {
		doc := strings.TrimSpace(cell(row, idx, "document"))
		if doc == "" {
			continue
		}
		heading, err := parseBoolCell(cell(row, idx, "heading"))
		if err != nil {
			return fmt.Errorf("corpus: %s sheet row %d: %w", sheetContents, i+2, err)
		}
		w.Contents[doc] = append(w.Contents[doc], Row{
			SectionReference: strings.TrimSpace(cell(row, idx, "section_reference")),
			Heading:          heading,
			Text:             cell(row, idx, "text"),
		})
	}
	return nil
}

func (w *Workbook) readDefinitions(f *excelize.File) error {
	rows, err := f.GetRows(sheetDefinitions)
	if err != nil {
		return nil // optional sheet
	}
	if len(rows) == 0 {
		return nil
	}
	idx := headerIndex(rows[0])
	for i, row := range rows[1:] {
		doc := strings.TrimSpace(cell(row, idx, "document"))
		if doc == "" {
			continue
		}
		embedding, err := parseEmbeddingCell(cell(row, idx, "embedding"))
		if err != nil {
			return fmt.Errorf("corpus: %s sheet row %d: %w", sheetDefinitions, i+2, err)
		}
		w.Definitions = append(w.Definitions, DefinitionRow{
			Document:         doc,
			SectionReference: strings.TrimSpace(cell(row, idx, "section_reference")),
			Text:             cell(row, idx, "text"),
			Definition:       cell(row, idx, "definition"),
			Embedding:        embedding,
		})
	}
	return nil
}

func (w *Workbook) readSections(f *excelize.File) error {
	rows, err := f.GetRows(sheetSections)
	if err != nil {
		return nil // optional sheet
	}
	if len(rows) == 0 {
		return nil
	}
	idx := headerIndex(rows[0])
	for i, row := range rows[1:] {
		doc := strings.TrimSpace(cell(row, idx, "document"))
		if doc == "" {
			continue
		}
		embedding, err := parseEmbeddingCell(cell(row, idx, "embedding"))
		if err != nil {
			return fmt.Errorf("corpus: %s sheet row %d: %w", sheetSections, i+2, err)
		}
		w.Sections = append(w.Sections, SectionRow{
			Document:         doc,
			SectionReference: strings.TrimSpace(cell(row, idx, "section_reference")),
			Source:           strings.TrimSpace(cell(row, idx, "source")),
			Text:             cell(row, idx, "text"),
			Embedding:        embedding,
		})
	}
	return nil
}

func (w *Workbook) readWorkflows(f *excelize.File) error {
	rows, err := f.GetRows(sheetWorkflows)
	if err != nil {
		return nil // optional sheet
	}
	if len(rows) == 0 {
		return nil
	}
	idx := headerIndex(rows[0])
	for i, row := range rows[1:] {
		name := strings.TrimSpace(cell(row, idx, "workflow"))
		if name == "" {
			continue
		}
		embedding, err := parseEmbeddingCell(cell(row, idx, "embedding"))
		if err != nil {
			return fmt.Errorf("corpus: %s sheet row %d: %w", sheetWorkflows, i+2, err)
		}
		w.Workflows = append(w.Workflows, WorkflowRow{
			Workflow:  name,
			Text:      cell(row, idx, "text"),
			Embedding: embedding,
		})
	}
	return nil
}

// headerIndex maps lowercased column names to their positions so sheets may
// carry extra document-specific columns without breaking the load.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func cell(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseBoolCell(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, fmt.Errorf("heading cell %q is not a boolean", s)
	}
	return v, nil
}

func parseEmbeddingCell(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(s), &embedding); err != nil {
		return nil, fmt.Errorf("embedding cell is not a JSON float array: %w", err)
	}
	return embedding, nil
}
