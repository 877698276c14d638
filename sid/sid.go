// Package sid implements the CORECONF addressing model: YANG Schema Item
// iDentifiers (SID) and instance identifiers carried in FETCH payloads.
//
// https://datatracker.ietf.org/doc/html/draft-ietf-core-comi-11#section-4.2.4
package sid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/plgd-dev/go-coreconf/codec/cbor"
)

var (
	ErrInvalidIdentifier = errors.New("invalid instance identifier")
	ErrUnexpectedShape   = errors.New("unexpected value shape")
)

// SID is a Short IDentifier of a YANG data node.
type SID uint64

func (s SID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Identifier addresses a data node instance. Keys select a list entry and
// are omitted for leaves and containers.
type Identifier struct {
	SID  SID
	Keys []interface{}
}

// NewIdentifier creates identifier for sid with optional list keys.
func NewIdentifier(sid SID, keys ...interface{}) Identifier {
	return Identifier{SID: sid, Keys: keys}
}

// String returns identifier in the form accepted by ParseIdentifier.
func (id Identifier) String() string {
	if len(id.Keys) == 0 {
		return id.SID.String()
	}
	var b strings.Builder
	b.WriteString(id.SID.String())
	for _, k := range id.Keys {
		b.WriteByte(':')
		fmt.Fprint(&b, k)
	}
	return b.String()
}

// ParseIdentifier parses "sid" or "sid:key1:key2". Keys that look like
// unsigned or negative integers are kept as integers, everything else as
// text strings.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	v, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w %q: sid: %v", ErrInvalidIdentifier, s, err)
	}
	id := Identifier{SID: SID(v)}
	for _, p := range parts[1:] {
		if p == "" {
			return Identifier{}, fmt.Errorf("%w %q: empty key", ErrInvalidIdentifier, s)
		}
		id.Keys = append(id.Keys, parseKey(p))
	}
	return id, nil
}

func parseKey(s string) interface{} {
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

// MarshalCBOR encodes identifier as bare SID or as [SID, key...].
func (id Identifier) MarshalCBOR() ([]byte, error) {
	if len(id.Keys) == 0 {
		return cbor.Encode(uint64(id.SID))
	}
	v := make([]interface{}, 0, len(id.Keys)+1)
	v = append(v, uint64(id.SID))
	v = append(v, id.Keys...)
	return cbor.Encode(v)
}

// UnmarshalCBOR decodes identifier from bare SID or [SID, key...].
func (id *Identifier) UnmarshalCBOR(data []byte) error {
	v, err := cbor.DecodeValue(data)
	if err != nil {
		return err
	}
	parsed, err := identifierFromValue(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func identifierFromValue(v interface{}) (Identifier, error) {
	switch t := v.(type) {
	case uint64:
		return Identifier{SID: SID(t)}, nil
	case []interface{}:
		if len(t) == 0 {
			return Identifier{}, fmt.Errorf("%w: empty array", ErrInvalidIdentifier)
		}
		s, ok := t[0].(uint64)
		if !ok {
			return Identifier{}, fmt.Errorf("%w: sid has type %T", ErrInvalidIdentifier, t[0])
		}
		id := Identifier{SID: SID(s)}
		if len(t) > 1 {
			id.Keys = append([]interface{}{}, t[1:]...)
		}
		return id, nil
	}
	return Identifier{}, fmt.Errorf("%w: type %T", ErrInvalidIdentifier, v)
}

// Request is the payload of a CORECONF FETCH: an ordered list of instance
// identifiers.
type Request []Identifier

// ParseRequest parses each element with ParseIdentifier.
func ParseRequest(ids ...string) (Request, error) {
	r := make(Request, 0, len(ids))
	for _, s := range ids {
		id, err := ParseIdentifier(s)
		if err != nil {
			return nil, err
		}
		r = append(r, id)
	}
	return r, nil
}

// Encode returns CBOR representation of the request.
func (r Request) Encode() ([]byte, error) {
	return cbor.Encode([]Identifier(r))
}

// DecodeRequest parses a FETCH payload.
func DecodeRequest(data []byte) (Request, error) {
	var raw []fxcbor.RawMessage
	if err := cbor.Decode(data, &raw); err != nil {
		return nil, err
	}
	r := make(Request, 0, len(raw))
	for _, e := range raw {
		var id Identifier
		if err := id.UnmarshalCBOR(e); err != nil {
			return nil, err
		}
		r = append(r, id)
	}
	return r, nil
}

// ValuePath is the [SID, [SID, value]] pair used in CORECONF payloads.
type ValuePath struct {
	Parent SID
	Child  SID
	Value  interface{}
}

// ParseValuePath interprets a decoded payload as [SID, [SID, value]].
func ParseValuePath(v interface{}) (ValuePath, error) {
	outer, ok := v.([]interface{})
	if !ok || len(outer) != 2 {
		return ValuePath{}, fmt.Errorf("%w: expected [sid, [sid, value]], got %v", ErrUnexpectedShape, v)
	}
	parent, ok := outer[0].(uint64)
	if !ok {
		return ValuePath{}, fmt.Errorf("%w: parent sid has type %T", ErrUnexpectedShape, outer[0])
	}
	inner, ok := outer[1].([]interface{})
	if !ok || len(inner) != 2 {
		return ValuePath{}, fmt.Errorf("%w: expected [sid, value], got %v", ErrUnexpectedShape, outer[1])
	}
	child, ok := inner[0].(uint64)
	if !ok {
		return ValuePath{}, fmt.Errorf("%w: child sid has type %T", ErrUnexpectedShape, inner[0])
	}
	return ValuePath{Parent: SID(parent), Child: SID(child), Value: inner[1]}, nil
}
