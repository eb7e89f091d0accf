package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// JSON encodes with encoding/json. It defines the wire format.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// GoJSON encodes with github.com/goccy/go-json. Its output is
// interchangeable with JSON.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// Default is used wherever no codec is configured.
var Default Codec = GoJSON{}
