package codec

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// SerializationType selects the archive serialization format. The envelope
// wire format is always JSON; this codec covers internal storage blobs such
// as dead letter entries.
type SerializationType string

const (
	SerializationCBOR    SerializationType = "cbor"
	SerializationJSON    SerializationType = "json"
	SerializationMsgPack SerializationType = "msgpack"
)

// Serializer encodes arbitrary records for storage.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() SerializationType
}

// NewSerializer returns a serializer for the requested format.
func NewSerializer(st SerializationType) (Serializer, error) {
	switch st {
	case SerializationCBOR:
		opts := cbor.CanonicalEncOptions()
		mode, err := opts.EncMode()
		if err != nil {
			return nil, fmt.Errorf("cbor enc mode init failed: %w", err)
		}
		return &cborSerializer{enc: mode}, nil
	case SerializationJSON:
		return &jsonSerializer{}, nil
	case SerializationMsgPack:
		return &msgpackSerializer{}, nil
	default:
		return nil, fmt.Errorf("unsupported serialization type: %s", st)
	}
}

type cborSerializer struct {
	enc cbor.EncMode
}

func (s *cborSerializer) Marshal(v interface{}) ([]byte, error) { return s.enc.Marshal(v) }
func (s *cborSerializer) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
func (s *cborSerializer) Name() SerializationType { return SerializationCBOR }

type jsonSerializer struct{}

func (s *jsonSerializer) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (s *jsonSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (s *jsonSerializer) Name() SerializationType { return SerializationJSON }

type msgpackSerializer struct{}

func (s *msgpackSerializer) Marshal(v interface{}) ([]byte, error) { return msgpack.Marshal(v) }
func (s *msgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
func (s *msgpackSerializer) Name() SerializationType { return SerializationMsgPack }
