package rdf

import "strings"

// TermKind discriminates the RDF term variants.
type TermKind uint8

// Constants representing the term variants of the RDF data model.
const (
	TermNamedNode TermKind = iota
	TermBlankNode
	TermLiteral
	TermDefaultGraph
)

// String returns a string representation of the TermKind.
func (k TermKind) String() string {
	switch k {
	case TermNamedNode:
		return "NamedNode"
	case TermBlankNode:
		return "BlankNode"
	case TermLiteral:
		return "Literal"
	case TermDefaultGraph:
		return "DefaultGraph"
	default:
		return "Unknown"
	}
}

// Term is a tagged RDF term. The zero value is the default graph.
//
// Language and Datatype are only meaningful for literals; both empty
// means a plain string literal.
type Term struct {
	Kind     TermKind `json:"kind"`
	Value    string   `json:"value,omitempty"`
	Language string   `json:"language,omitempty"`
	Datatype string   `json:"datatype,omitempty"`
}

// NewNamedNode returns an IRI term.
func NewNamedNode(iri string) Term {
	return Term{Kind: TermNamedNode, Value: iri}
}

// NewBlankNode returns a blank node term with the given label.
func NewBlankNode(label string) Term {
	return Term{Kind: TermBlankNode, Value: label}
}

// NewLiteral returns a plain string literal.
func NewLiteral(value string) Term {
	return Term{Kind: TermLiteral, Value: value}
}

// NewLangLiteral returns a language-tagged literal.
func NewLangLiteral(value, language string) Term {
	return Term{Kind: TermLiteral, Value: value, Language: language}
}

// NewTypedLiteral returns a literal with an explicit datatype IRI.
func NewTypedLiteral(value, datatype string) Term {
	return Term{Kind: TermLiteral, Value: value, Datatype: datatype}
}

// DefaultGraph returns the default graph term.
func DefaultGraph() Term {
	return Term{Kind: TermDefaultGraph}
}

// Equal reports whether two terms are structurally identical.
func (t Term) Equal(o Term) bool {
	return t.Kind == o.Kind && t.Value == o.Value &&
		t.Language == o.Language && t.Datatype == o.Datatype
}

// IsDefaultGraph reports whether the term is the default graph.
func (t Term) IsDefaultGraph() bool {
	return t.Kind == TermDefaultGraph
}

// fieldSep separates the value/language/datatype fields inside one
// encoded term. It never appears in IRIs and is vanishingly rare in
// literal content, which keeps encoded terms prefix-safe.
const fieldSep = "\x1e"

// Key returns a stable encoding of the term used to build composite
// index keys. Distinct terms always produce distinct keys.
func (t Term) Key() string {
	var sb strings.Builder
	sb.Grow(len(t.Value) + len(t.Language) + len(t.Datatype) + 4)
	switch t.Kind {
	case TermNamedNode:
		sb.WriteByte('n')
	case TermBlankNode:
		sb.WriteByte('b')
	case TermLiteral:
		sb.WriteByte('l')
	case TermDefaultGraph:
		sb.WriteByte('d')
	}
	sb.WriteString(t.Value)
	if t.Kind == TermLiteral && (t.Language != "" || t.Datatype != "") {
		sb.WriteString(fieldSep)
		sb.WriteString(t.Language)
		sb.WriteString(fieldSep)
		sb.WriteString(t.Datatype)
	}
	return sb.String()
}

// String renders the term in an N-Triples-like form, for logs and errors.
func (t Term) String() string {
	switch t.Kind {
	case TermNamedNode:
		return "<" + t.Value + ">"
	case TermBlankNode:
		return "_:" + t.Value
	case TermLiteral:
		s := `"` + t.Value + `"`
		if t.Language != "" {
			return s + "@" + t.Language
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	case TermDefaultGraph:
		return ""
	default:
		return "?"
	}
}
