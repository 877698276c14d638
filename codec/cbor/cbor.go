// Package cbor encodes and decodes CoAP payloads in the application/cbor
// content format.
package cbor

import (
	"errors"
	"fmt"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/ugorji/go/codec"
)

var (
	// ErrEncode is returned when a value cannot be serialized to CBOR.
	ErrEncode = errors.New("cbor: cannot encode value")
	// ErrDecode is returned when a payload is not well-formed CBOR.
	ErrDecode = errors.New("cbor: cannot decode payload")
)

var (
	encMode fxcbor.EncMode
	decMode fxcbor.DecMode
)

func init() {
	var err error
	encMode, err = fxcbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = fxcbor.DecOptions{
		DupMapKey:   fxcbor.DupMapKeyEnforcedAPF,
		IndefLength: fxcbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes v using core deterministic encoding.
func Encode(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

// Decode parses data into v. Empty input, truncated input and trailing
// bytes are all rejected.
func Decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// DecodeValue parses data into an untyped value tree.
func DecodeValue(data []byte) (interface{}, error) {
	var v interface{}
	if err := Decode(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var (
	cborHandle = new(codec.CborHandle)
	jsonHandle = func() *codec.JsonHandle {
		h := new(codec.JsonHandle)
		h.MapKeyAsString = true
		return h
	}()
)

// ToJSON renders a CBOR payload as JSON for diagnostics.
func ToJSON(data []byte) (string, error) {
	if err := fxcbor.Wellformed(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var m interface{}
	if err := codec.NewDecoderBytes(data, cborHandle).Decode(&m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(m); err != nil {
		return "", fmt.Errorf("cannot render json: %w", err)
	}
	return string(out), nil
}

// FromJSON parses a JSON document into a value that can be passed to Encode.
func FromJSON(data []byte) (interface{}, error) {
	var v interface{}
	if err := codec.NewDecoderBytes(data, jsonHandle).Decode(&v); err != nil {
		return nil, fmt.Errorf("cannot parse json: %w", err)
	}
	return v, nil
}
