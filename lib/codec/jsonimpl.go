package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// envelopeType tags byte payloads inside the JSON envelope
const envelopeType = "bytes"

// envelope is the canonical textual form of a stored value
type envelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewJSONCodec creates a new codec using a JSON envelope with base64 payload encoding
func NewJSONCodec() IValueCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IValueCodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Encode(value []byte) (string, error) {
	b, err := json.Marshal(envelope{
		Type: envelopeType,
		Data: base64.StdEncoding.EncodeToString(value),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (j jsonCodecImpl) Decode(s string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("malformed value envelope: %w", err)
	}
	if env.Type != envelopeType {
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	value, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("malformed value payload: %w", err)
	}
	return value, nil
}
