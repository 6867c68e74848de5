// Package export serializes scheduler and bridge snapshots for offline inspection.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"
)

// Codec marshals snapshot values in one wire format.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{ indent bool }

// JSON returns a JSON codec. Content-Type: application/json
func JSON() Codec { return jsonCodec{indent: true} }

func (jsonCodec) ContentType() string { return "application/json" }
func (c jsonCodec) Marshal(v any) ([]byte, error) {
	if c.indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec using the canonical encoding options.
// Timestamps are encoded as RFC 3339 strings so nanoseconds survive.
func CBOR() (Codec, error) {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// Registry maps content types and short format names to codecs.
type Registry struct {
	byType map[string]Codec
}

// NewRegistry constructs a registry preloaded with JSON and CBOR.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		return nil, fmt.Errorf("init cbor codec: %w", err)
	}
	r.Register(c)
	return r, nil
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type or short name ("json", "cbor"), or nil.
func (r *Registry) Get(format string) Codec {
	format = strings.ToLower(strings.TrimSpace(format))
	if c, ok := r.byType[format]; ok {
		return c
	}
	return r.byType["application/"+format]
}
