package corpus

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/corpuschat/reference"
)

var (
	// ErrNodeNotFound reports a reference that is valid but absent from the
	// table of contents.
	ErrNodeNotFound = errors.New("corpuschat: toc node not found")
	// ErrUnsplittableNode reports a leaf whose text exceeds the token limit.
	ErrUnsplittableNode = errors.New("corpuschat: toc node cannot be split below the token limit")
)

// footnoteMarker matches an inline footnote marker such as "[^2]".
var footnoteMarker = regexp.MustCompile(`\[\^\d+\]`)

// TOCNode is one entry in a table of contents. Name is the last reference
// component, FullName the complete reference (empty for the root).
type TOCNode struct {
	Name     string
	FullName string
	Heading  string
	Children []*TOCNode
}

func (n *TOCNode) child(name string) *TOCNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// TableOfContents is a tree over a document's section references. The root
// carries the document name.
type TableOfContents struct {
	Root    *TOCNode
	checker reference.Checker
}

// NewTableOfContents returns an empty tree rooted at rootName.
func NewTableOfContents(rootName string, checker reference.Checker) *TableOfContents {
	return &TableOfContents{
		Root:    &TOCNode{Name: rootName},
		checker: checker,
	}
}

// TOCFromRows builds a tree by inserting every row of a document. Heading
// rows contribute their text, footnotes stripped, as the node heading.
func TOCFromRows(rootName string, checker reference.Checker, rows []Row) (*TableOfContents, error) {
	toc := NewTableOfContents(rootName, checker)
	for i, row := range rows {
		heading := ""
		if row.Heading {
			heading = strings.TrimSpace(stripFootnotes(row.Text))
		}
		if err := toc.Add(row.SectionReference, heading); err != nil {
			return nil, fmt.Errorf("corpus: toc row %d: %w", i, err)
		}
	}
	return toc, nil
}

// Add inserts ref into the tree, creating any missing ancestors with empty
// headings. Adding the root name sets the root heading. Nodes keep their
// first non-empty heading.
func (t *TableOfContents) Add(ref, heading string) error {
	if ref == t.Root.Name {
		t.Root.Heading = heading
		return nil
	}
	if !t.checker.IsValid(ref) {
		return fmt.Errorf("%w: %q cannot be added to the table of contents", reference.ErrInvalidReference, ref)
	}
	parts, err := t.checker.Split(ref)
	if err != nil {
		return err
	}

	node := t.Root
	full := ""
	for i, part := range parts {
		full += part
		child := node.child(part)
		if child == nil {
			child = &TOCNode{Name: part, FullName: full}
			if i == len(parts)-1 {
				child.Heading = heading
			}
			node.Children = append(node.Children, child)
		}
		node = child
		if i == len(parts)-1 && node.Heading == "" {
			node.Heading = heading
		}
	}
	return nil
}

// Node returns the node for ref. The root name (or, under an empty grammar,
// the empty reference) resolves to the root.
func (t *TableOfContents) Node(ref string) (*TOCNode, error) {
	if ref == t.Root.Name {
		return t.Root, nil
	}
	if !t.checker.IsValid(ref) {
		return nil, fmt.Errorf("%w: %q", reference.ErrInvalidReference, ref)
	}
	parts, err := t.checker.Split(ref)
	if err != nil {
		return nil, err
	}

	node := t.Root
	for _, part := range parts {
		node = node.child(part)
		if node == nil {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, ref)
		}
	}
	return node, nil
}

// stripFootnotes drops footnote definition lines and inline markers.
func stripFootnotes(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if !footnoteLine.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return footnoteMarker.ReplaceAllString(strings.Join(kept, "\n"), "")
}

// SplitEntry is one token-bounded chunk emitted by SplitTree.
type SplitEntry struct {
	SectionReference string
	Text             string
	TokenCount       int
}

// SplitTree flattens the subtree under node into chunks whose text fits
// within limit tokens. A node over the limit is replaced by its children; a
// leaf over the limit fails with ErrUnsplittableNode. Text is materialized
// with markdown decorators and ancestor headings, the same form used when
// indexing sections.
func SplitTree(node *TOCNode, doc Document, countTokens func(string) int, limit int) ([]SplitEntry, error) {
	var entries []SplitEntry
	if err := splitTree(node, doc, countTokens, limit, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func splitTree(node *TOCNode, doc Document, countTokens func(string) int, limit int, out *[]SplitEntry) error {
	text := doc.Text(node.FullName, TextOptions{Markdown: true, Headings: true})
	count := countTokens(text)
	if count <= limit {
		*out = append(*out, SplitEntry{SectionReference: node.FullName, Text: text, TokenCount: count})
		return nil
	}
	if len(node.Children) == 0 {
		return fmt.Errorf("%w: %q holds %d tokens against a limit of %d", ErrUnsplittableNode, node.FullName, count, limit)
	}
	for _, child := range node.Children {
		if err := splitTree(child, doc, countTokens, limit, out); err != nil {
			return err
		}
	}
	return nil
}
