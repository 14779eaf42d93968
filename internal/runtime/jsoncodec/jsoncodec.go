// Package jsoncodec is the JSON codec used for typed JSON handlers and the
// management API. It is backed by sonic in encoding/json compatible mode.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}

// DecodeStrict decodes one value and rejects fields v does not declare.
func DecodeStrict(r io.Reader, v any) error {
	dec := api.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
