// Package corpus models hierarchically referenced documents and groups them
// into corpora. A document is an ordered table of rows, each carrying a
// section reference validated by the document's reference grammar; text for
// any section is assembled on demand from the rows, their ancestors'
// headings, and the subtree below them.
package corpus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/corpuschat/reference"
)

// footnoteLine matches a markdown footnote definition at the start of a
// line, e.g. "[^1]: see appendix".
var footnoteLine = regexp.MustCompile(`^\[\^\d+\]:`)

// Row is one entry of a document: a heading or a block of body text
// attached to a section reference.
type Row struct {
	SectionReference string
	Heading          bool
	Text             string
}

// TextOptions controls how Document.Text assembles section text.
type TextOptions struct {
	// Markdown renders headings with #-prefixes matched to their depth and
	// separates blocks with blank lines.
	Markdown bool
	// Headings prepends the heading rows of every ancestor section.
	Headings bool
	// SectionOnly suppresses the text of subsections.
	SectionOnly bool
}

// Document is a named, hierarchically referenced text. Implementations are
// read-only after construction.
type Document interface {
	// Name returns the full document name.
	Name() string
	// Checker returns the reference grammar for the document's sections.
	Checker() reference.Checker
	// Text assembles the text of a section. An empty reference selects the
	// whole document. Invalid or unknown references yield an empty string;
	// callers treat emptiness as the retrieval-failure signal.
	Text(ref string, opts TextOptions) string
	// Heading returns the heading chain for a section, outermost first.
	Heading(ref string, markdown bool) string
	// TOC returns the document's table of contents.
	TOC() *TableOfContents
	// Rows returns the underlying rows in document order.
	Rows() []Row
}

// Table is a Document backed by an in-memory slice of rows.
type Table struct {
	name    string
	checker reference.Checker
	rows    []Row
	byRef   map[string][]Row
	toc     *TableOfContents
}

// NewTable builds a Document from rows. Every row's section reference must
// be valid under checker; the table of contents is built once up front.
func NewTable(name string, checker reference.Checker, rows []Row) (*Table, error) {
	t := &Table{
		name:    name,
		checker: checker,
		rows:    rows,
		byRef:   make(map[string][]Row),
	}
	for i, row := range rows {
		if !checker.IsValid(row.SectionReference) {
			return nil, fmt.Errorf("%w: document %q row %d has reference %q", reference.ErrInvalidReference, name, i, row.SectionReference)
		}
		t.byRef[row.SectionReference] = append(t.byRef[row.SectionReference], row)
	}
	toc, err := TOCFromRows(name, checker, rows)
	if err != nil {
		return nil, fmt.Errorf("corpus: building toc for %q: %w", name, err)
	}
	t.toc = toc
	return t, nil
}

// MustNewTable is NewTable that panics on error, for fixtures and tests.
func MustNewTable(name string, checker reference.Checker, rows []Row) *Table {
	t, err := NewTable(name, checker, rows)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Name() string               { return t.name }
func (t *Table) Checker() reference.Checker { return t.checker }
func (t *Table) TOC() *TableOfContents      { return t.toc }
func (t *Table) Rows() []Row                { return t.rows }

// rowsFor returns the rows for a reference, or every row when ref is empty.
func (t *Table) rowsFor(ref string) []Row {
	if ref == "" {
		return t.rows
	}
	return t.byRef[ref]
}

// Text assembles section text per opts and re-attaches any footnotes found
// in the selected rows at the end.
func (t *Table) Text(ref string, opts TextOptions) string {
	text, notes := t.textAndFootnotes(ref, opts)
	return formatTextAndFootnotes(text, notes)
}

// textAndFootnotes walks the rows for ref (ancestor headings first when
// requested, subtree last unless SectionOnly), separating footnote lines
// from the running body.
func (t *Table) textAndFootnotes(ref string, opts TextOptions) (string, []string) {
	if ref != "" && !t.checker.IsValid(ref) {
		return "", nil
	}

	rows := t.rowsFor(ref)
	if len(rows) == 0 {
		return "", nil
	}

	var b strings.Builder
	var notes []string
	for _, row := range rows {
		rowNotes, body := splitFootnotes(row.Text)
		notes = append(notes, rowNotes...)
		body = strings.TrimSpace(body)
		b.WriteString(t.formatLine(row, body, opts.Markdown))
		// A table block that ends mid-stream needs a separating newline
		// before non-table text.
		if strings.HasSuffix(strings.TrimSpace(b.String()), "|") && !strings.HasPrefix(body, "|") {
			b.WriteString("\n")
		}
	}
	text := b.String()

	if opts.Headings {
		var buildUp string
		var headingNotes []string
		parent, _ := t.checker.Parent(ref)
		for parent != "" {
			parentRows := t.rowsFor(parent)
			for i := len(parentRows) - 1; i >= 0; i-- {
				row := parentRows[i]
				if !row.Heading {
					continue
				}
				rowNotes, body := splitFootnotes(row.Text)
				headingNotes = append(headingNotes, rowNotes...)
				buildUp = t.formatLine(row, strings.TrimSpace(body), opts.Markdown) + buildUp
			}
			parent, _ = t.checker.Parent(parent)
		}
		text = buildUp + text
		notes = append(headingNotes, notes...)
	}

	if ref != "" && !opts.SectionOnly {
		if node, err := t.toc.Node(ref); err == nil {
			childOpts := opts
			childOpts.Headings = false
			for _, child := range node.Children {
				if child.FullName == "" {
					continue
				}
				childText, childNotes := t.textAndFootnotes(child.FullName, childOpts)
				text += childText
				notes = append(notes, childNotes...)
			}
		}
	}

	return text, notes
}

// Heading returns the concatenated heading rows for ref preceded by the
// heading rows of every ancestor. Unknown or invalid references yield "".
func (t *Table) Heading(ref string, markdown bool) string {
	if !t.checker.IsValid(ref) {
		return ""
	}
	rows := t.rowsFor(ref)
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	for _, row := range rows {
		if !row.Heading {
			continue
		}
		_, body := splitFootnotes(row.Text)
		b.WriteString(t.formatLine(row, strings.TrimSpace(body), markdown))
	}

	var buildUp string
	parent, _ := t.checker.Parent(ref)
	for parent != "" {
		parentRows := t.rowsFor(parent)
		for i := len(parentRows) - 1; i >= 0; i-- {
			row := parentRows[i]
			if !row.Heading {
				continue
			}
			_, body := splitFootnotes(row.Text)
			buildUp = t.formatLine(row, strings.TrimSpace(body), markdown) + buildUp
		}
		parent, _ = t.checker.Parent(parent)
	}

	return strings.Trim(buildUp+b.String(), "\n")
}

// formatLine renders one row. Heading rows carry their reference and, in
// markdown mode, a #-prefix matching their depth. Body rows that look like
// markdown tables keep single-newline separation so the table stays intact.
func (t *Table) formatLine(row Row, body string, markdown bool) string {
	if row.Heading {
		parts, _ := t.checker.Split(row.SectionReference)
		if markdown {
			return strings.Repeat("#", len(parts)) + " " + row.SectionReference + " " + body + "\n\n"
		}
		return row.SectionReference + " " + body + "\n"
	}
	if markdown && !strings.HasPrefix(body, "|") {
		return body + "\n\n"
	}
	return body + "\n"
}

// splitFootnotes separates footnote definition lines from the body text.
func splitFootnotes(text string) (notes []string, body string) {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if footnoteLine.MatchString(line) {
			notes = append(notes, line)
		} else {
			kept = append(kept, line)
		}
	}
	return notes, strings.Join(kept, "\n")
}

// formatTextAndFootnotes appends the collected footnotes below the body with
// markdown hard line breaks (two trailing spaces).
func formatTextAndFootnotes(text string, notes []string) string {
	out := strings.TrimSpace(text) + "\n\n"
	for _, note := range notes {
		out += "  \n" + strings.TrimSpace(note)
	}
	return strings.TrimSpace(out)
}
