package corpus

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDocumentNotFound reports a document key with no entry in the corpus.
var ErrDocumentNotFound = errors.New("corpuschat: document not found")

// Corpus is an immutable set of documents addressed by key. A corpus is
// often built around one main document; its key, when set, names the
// grammar used for sample references in prompts and the fallback checker
// for cross-document section requests.
type Corpus struct {
	documents map[string]Document
	primary   string
}

// New builds a corpus. primaryKey may be empty; when set it must name one
// of the documents.
func New(documents map[string]Document, primaryKey string) (*Corpus, error) {
	if primaryKey != "" {
		if _, ok := documents[primaryKey]; !ok {
			return nil, fmt.Errorf("%w: primary document %q", ErrDocumentNotFound, primaryKey)
		}
	}
	docs := make(map[string]Document, len(documents))
	for key, doc := range documents {
		docs[key] = doc
	}
	return &Corpus{documents: docs, primary: primaryKey}, nil
}

// Document returns the document stored under key.
func (c *Corpus) Document(key string) (Document, error) {
	doc, ok := c.documents[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDocumentNotFound, key)
	}
	return doc, nil
}

// Primary returns the primary document key, or "" when none is designated.
func (c *Corpus) Primary() string { return c.primary }

// Keys returns the document keys in sorted order.
func (c *Corpus) Keys() []string {
	keys := make([]string, 0, len(c.documents))
	for key := range c.documents {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Text resolves key and delegates to the document's Text.
func (c *Corpus) Text(key, ref string, opts TextOptions) (string, error) {
	doc, err := c.Document(key)
	if err != nil {
		return "", err
	}
	return doc.Text(ref, opts), nil
}

// Heading resolves key and delegates to the document's Heading.
func (c *Corpus) Heading(key, ref string, markdown bool) (string, error) {
	doc, err := c.Document(key)
	if err != nil {
		return "", err
	}
	return doc.Heading(ref, markdown), nil
}

// Registry maps document keys to constructors. It replaces convention-based
// document discovery with an explicit mapping populated at startup.
type Registry map[string]func() (Document, error)

// Build constructs every registered document and assembles a corpus.
func (r Registry) Build(primaryKey string) (*Corpus, error) {
	docs := make(map[string]Document, len(r))
	for key, build := range r {
		doc, err := build()
		if err != nil {
			return nil, fmt.Errorf("corpus: building document %q: %w", key, err)
		}
		docs[key] = doc
	}
	return New(docs, primaryKey)
}
