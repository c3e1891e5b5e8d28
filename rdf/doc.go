// Package rdf defines the immutable term and quad value types that flow
// through every quadgo component.
//
// Quads are plain values: structural equality over all four positions is
// the sole identity, and no component mutates a quad in place. Index and
// transaction operations always replace by value.
package rdf
