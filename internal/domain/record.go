package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("malformed response envelope")

// Record is one row of a pricing service response.
type Record struct {
	Fields  FieldBag `json:"fields"`
	Actions Actions  `json:"actions,omitempty"`
}

// Envelope is the decoded response of every remote call.
type Envelope struct {
	Records []Record `json:"records"`
}

// DecodeEnvelope decodes a response body. The service answers with a JSON
// string that itself encodes the envelope; a bare JSON object is accepted too.
// Numbers are kept as json.Number so they round-trip verbatim.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEnvelope)
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		data = []byte(inner)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// EncodeEnvelope produces the wire form the service uses: a JSON string
// wrapping the envelope object.
func EncodeEnvelope(env *Envelope) (string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope failed: %w", err)
	}
	return string(body), nil
}
