package codec

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/meftunca/courier/pkg/types"
)

// JSONLibrary selects the JSON implementation backing the wire codec
type JSONLibrary string

const (
	JSONLibraryStandard JSONLibrary = "standard" // encoding/json
	JSONLibrarySonic    JSONLibrary = "sonic"    // bytedance/sonic
)

// WireCodec encodes envelopes into their JSON wire form and back.
type WireCodec struct {
	library JSONLibrary
	api     sonic.API
}

// NewWireCodec creates a wire codec for the chosen JSON library.
// Unknown library names fall back to the standard library.
func NewWireCodec(library JSONLibrary) *WireCodec {
	c := &WireCodec{library: library}
	if library == JSONLibrarySonic {
		c.api = sonic.Config{EscapeHTML: false}.Froze()
	} else {
		c.library = JSONLibraryStandard
	}
	return c
}

// Library returns the active JSON library name.
func (c *WireCodec) Library() JSONLibrary {
	return c.library
}

// EncodeEnvelope serializes an envelope to its wire JSON form.
func (c *WireCodec) EncodeEnvelope(env *types.Envelope) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.library == JSONLibrarySonic {
		data, err = c.api.Marshal(env)
	} else {
		data, err = json.Marshal(env)
	}
	if err != nil {
		return nil, types.ErrValidation("envelope serialization failed").WithCause(err)
	}
	return data, nil
}

// DecodeEnvelope deserializes a wire JSON blob into an envelope.
func (c *WireCodec) DecodeEnvelope(data []byte) (*types.Envelope, error) {
	env := &types.Envelope{}
	var err error
	if c.library == JSONLibrarySonic {
		err = c.api.Unmarshal(data, env)
	} else {
		err = json.Unmarshal(data, env)
	}
	if err != nil {
		return nil, types.ErrValidation("envelope deserialization failed").WithCause(err)
	}
	return env, nil
}
