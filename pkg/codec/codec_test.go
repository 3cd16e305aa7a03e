package codec

import (
	"bytes"
	"testing"

	"github.com/meftunca/courier/pkg/types"
)

func TestWireCodecRoundTrip(t *testing.T) {
	for _, lib := range []JSONLibrary{JSONLibraryStandard, JSONLibrarySonic} {
		t.Run(string(lib), func(t *testing.T) {
			c := NewWireCodec(lib)

			env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`)).
				WithSender("svc-a").
				WithPriority(types.PriorityHighest)
			env.Signature = "abc123"
			env.LastError = "previous failure"

			data, err := c.EncodeEnvelope(env)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}

			got, err := c.DecodeEnvelope(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}

			if got.ID != env.ID || got.Destination != env.Destination ||
				got.Type != env.Type || got.Priority != env.Priority ||
				got.Sender != env.Sender || got.Signature != env.Signature ||
				got.CreatedAt != env.CreatedAt || got.LastError != env.LastError {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, env)
			}
			if !bytes.Equal(got.Payload, env.Payload) {
				t.Errorf("payload mismatch: got %s, want %s", got.Payload, env.Payload)
			}
		})
	}
}

func TestWireCodecUnknownLibraryFallsBack(t *testing.T) {
	c := NewWireCodec("no-such-library")
	if c.Library() != JSONLibraryStandard {
		t.Errorf("expected fallback to standard, got %s", c.Library())
	}
}

func TestWireCodecDecodeGarbage(t *testing.T) {
	c := NewWireCodec(JSONLibrarySonic)
	if _, err := c.DecodeEnvelope([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the same phrase over and over "), 100)

	for _, ctype := range []CompressionType{
		CompressionNone, CompressionZstd, CompressionLZ4, CompressionGzip, CompressionBrotli,
	} {
		t.Run(string(ctype), func(t *testing.T) {
			c, err := NewCompressor(ctype, 0)
			if err != nil {
				t.Fatalf("compressor init failed: %v", err)
			}

			blob, err := c.Compress(payload)
			if err != nil {
				t.Fatalf("compress failed: %v", err)
			}
			got, err := c.Decompress(blob)
			if err != nil {
				t.Fatalf("decompress failed: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("round trip mismatch")
			}

			if ctype != CompressionNone && len(blob) >= len(payload) {
				t.Errorf("repetitive payload should shrink: %d -> %d", len(payload), len(blob))
			}
		})
	}
}

func TestCompressorThreshold(t *testing.T) {
	c, err := NewCompressor(CompressionZstd, 256)
	if err != nil {
		t.Fatalf("compressor init failed: %v", err)
	}

	small := []byte("tiny")
	blob, err := c.Compress(small)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if blob[0] != tagNone {
		t.Errorf("sub-threshold blob should be framed uncompressed, tag=%d", blob[0])
	}
	if got, _ := c.Decompress(blob); !bytes.Equal(got, small) {
		t.Error("sub-threshold round trip mismatch")
	}

	big := bytes.Repeat([]byte("a"), 1024)
	blob, err = c.Compress(big)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if blob[0] != tagZstd {
		t.Errorf("above-threshold blob should be compressed, tag=%d", blob[0])
	}
}

func TestDecompressRejectsUnknownTag(t *testing.T) {
	c, err := NewCompressor(CompressionNone, 0)
	if err != nil {
		t.Fatalf("compressor init failed: %v", err)
	}
	if _, err := c.Decompress([]byte{99, 1, 2, 3}); err == nil {
		t.Error("expected unknown tag error")
	}
}

func TestNewCompressorRejectsUnknownType(t *testing.T) {
	if _, err := NewCompressor("snappy", 0); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	type record struct {
		Name  string `cbor:"n" json:"name" msgpack:"n"`
		Count int    `cbor:"c" json:"count" msgpack:"c"`
	}

	for _, st := range []SerializationType{SerializationCBOR, SerializationJSON, SerializationMsgPack} {
		t.Run(string(st), func(t *testing.T) {
			s, err := NewSerializer(st)
			if err != nil {
				t.Fatalf("serializer init failed: %v", err)
			}
			if s.Name() != st {
				t.Errorf("expected name %s, got %s", st, s.Name())
			}

			in := record{Name: "parked", Count: 3}
			data, err := s.Marshal(in)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var out record
			if err := s.Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if out != in {
				t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
			}
		})
	}

	if _, err := NewSerializer("xml"); err == nil {
		t.Error("expected error for unsupported type")
	}
}
