package corpus

import (
	"testing"

	"github.com/brunobiangulo/corpuschat/reference"
)

// The fixtures model a two-document corpus: an estate handbook ("WRR") with
// a plain dotted numbering scheme and a town addendum ("Plett") with a
// deeper handbook-style scheme.

func simpleChecker(t *testing.T) reference.Checker {
	t.Helper()
	c, err := reference.New(
		[]string{`^[1-9]`, `^\.[1-9]`, `^\.[1-9]`},
		`[1-9](\.[1-9]){0,2}`,
		nil,
	)
	if err != nil {
		t.Fatalf("building simple checker: %v", err)
	}
	return c
}

func handbookChecker(t *testing.T) reference.Checker {
	t.Helper()
	c, err := reference.New(
		[]string{
			`^[A-Z]\.\d{0,2}`,
			`^\([A-Z]\)`,
			`^\((i|ii|iii|iv|v|vi|vii|viii|ix|x|xi|xii|xiii|xiv|xv|xvi|xvii|xviii|xix|xx|xxi|xxii|xxiii|xxiv|xxv|xxvi|xxvii)\)`,
			`^\([a-z]\)`,
			`^\([a-z]{2}\)`,
			`^\((?:[1-9]|[1-9][0-9])\)`,
		},
		`A.1(A)(i)(a)(aa)(1)`,
		nil,
	)
	if err != nil {
		t.Fatalf("building handbook checker: %v", err)
	}
	return c
}

func wrrRows() []Row {
	return []Row{
		{SectionReference: "1", Heading: true, Text: "Navigating Whale Rock Ridge"},
		{SectionReference: "1", Heading: false, Text: "Whale Rock Ridge is a large complex. Here are directions to help you[^1].\n[^1]: Directions from 11 Turnstone"},
		{SectionReference: "1.1", Heading: true, Text: "To West Gate"},
		{SectionReference: "1.1", Heading: false, Text: "Turn right out driveway. At the traffic circle, take the first exit. Proceed to West Gate"},
		{SectionReference: "1.2", Heading: true, Text: "To Main Gate"},
		{SectionReference: "1.2", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"},
		{SectionReference: "1.3", Heading: true, Text: "To South Gate"},
		{SectionReference: "1.3", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"},
	}
}

func wrrDocument(t *testing.T) *Table {
	t.Helper()
	doc, err := NewTable("Navigating Whale Rock Ridge", simpleChecker(t), wrrRows())
	if err != nil {
		t.Fatalf("building WRR document: %v", err)
	}
	return doc
}

func plettRows() []Row {
	return []Row{
		{SectionReference: "A.", Heading: true, Text: "Navigating Plettenberg Bay"},
		{SectionReference: "A.", Heading: false, Text: "Plett is a small town. Here are directions to help you[^1].\n[^1]: Directions from Whale Rock Ridge"},
		{SectionReference: "A.1", Heading: true, Text: "Definitions"},
		{SectionReference: "A.1(A)", Heading: false, Text: "The Gym: The Health and Fitness Center on Piesang Valley Road"},
		{SectionReference: "A.1(B)", Heading: false, Text: "The Robberg Nature Reserve: The Cape Nature park at the end of the Robberg Peninsula"},
		{SectionReference: "A.2", Heading: true, Text: "Directions"},
		{SectionReference: "A.2(A)", Heading: true, Text: "To the Gym"},
		{SectionReference: "A.2(A)(i)", Heading: true, Text: "From West Gate (see 1.1)"},
		{SectionReference: "A.2(A)(i)", Heading: false, Text: "Turn left into Longships Drive and right at the T-junction into Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(A)(ii)", Heading: true, Text: "From Main Gate (see 1.2)"},
		{SectionReference: "A.2(A)(ii)", Heading: false, Text: "Turn right Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(A)(iii)", Heading: true, Text: "From South Gate (see 1.3)"},
		{SectionReference: "A.2(A)(iii)", Heading: false, Text: "Turn right Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(B)", Heading: true, Text: "To Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(i)", Heading: true, Text: "From West Gate (see 1.1)"},
		{SectionReference: "A.2(B)(i)", Heading: false, Text: "Turn left into Longships Drive and left at the T-junction into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(ii)", Heading: true, Text: "From Main Gate (see 1.2)"},
		{SectionReference: "A.2(B)(ii)", Heading: false, Text: "Turn left into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(iii)", Heading: true, Text: "From South Gate (see 1.3)"},
		{SectionReference: "A.2(B)(iii)", Heading: false, Text: "Turn left into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
	}
}

func plettDocument(t *testing.T) *Table {
	t.Helper()
	doc, err := NewTable("Navigating Plett", handbookChecker(t), plettRows())
	if err != nil {
		t.Fatalf("building Plett document: %v", err)
	}
	return doc
}
