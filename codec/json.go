package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Terms and quads are plain structs of strings, so JSON round-trips them
// losslessly. Use this codec when portability matters more than encode
// throughput.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
//
// Snapshots are self-describing (the codec name is in the header), so
// changing the default only affects newly written streams.
var Default Codec = GoJSON{}
