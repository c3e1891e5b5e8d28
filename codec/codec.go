// Package codec centralizes quad and snapshot record encoding.
//
// quadgo intentionally treats codec selection as a breaking-change
// boundary: exported snapshots record the codec name in their header, and
// bytes written by one codec may not decode under another.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Snapshot readers use this to select the codec recorded in a stream
// header.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
