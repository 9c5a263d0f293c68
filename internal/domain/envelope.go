package domain

import "encoding/json"

// Envelope is the dual response shape returned by the Miniserver: either
// a flat {code, value} object, or a nested {LL: {Code, value}} object.
// UnmarshalJSON tries both forms so callers never need to know which one
// a given endpoint returned.
type Envelope struct {
	Code  int
	Value json.RawMessage
}

type flatEnvelope struct {
	Code  int             `json:"code"`
	Value json.RawMessage `json:"value"`
}

type nestedEnvelope struct {
	LL struct {
		Code  json.Number     `json:"Code"`
		Value json.RawMessage `json:"value"`
	} `json:"LL"`
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var nested nestedEnvelope
	if err := json.Unmarshal(data, &nested); err == nil && nested.LL.Code != "" {
		code, convErr := nested.LL.Code.Int64()
		if convErr == nil {
			e.Code = int(code)
			e.Value = nested.LL.Value
			return nil
		}
	}
	var flat flatEnvelope
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	e.Code = flat.Code
	e.Value = flat.Value
	return nil
}

// MarshalJSON renders the flat {code, value} form, used when this
// gateway synthesizes envelopes (e.g. queued-command 202 responses).
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(flatEnvelope{Code: e.Code, Value: e.Value})
}

// Success reports whether the envelope carries an HTTP-style 2xx code.
func (e Envelope) Success() bool {
	return e.Code >= 200 && e.Code < 300
}

// DecodeValue unmarshals the envelope's value payload into v.
func (e Envelope) DecodeValue(v any) error {
	if len(e.Value) == 0 {
		return nil
	}
	return json.Unmarshal(e.Value, v)
}

// NewEnvelope builds a flat envelope with the given code carrying v.
func NewEnvelope(code int, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Code: code, Value: raw}, nil
}
