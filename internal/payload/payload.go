// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package payload implements the opaque byte envelope that carries
// workflow input/result, activity input/output, signal payloads, and
// memo values across the History Store. The engine never inspects
// payload shapes (§9 "Dynamic dispatch on activities": handlers
// are polymorphic over (input -> output) with both sides serialized
// through a single opaque payload type).
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

const (
	metadataEncoding     = "encoding"
	metadataEncodingRaw  = "raw"
	metadataEncodingJSON = "json"
)

// Payload is a single opaque value plus the metadata needed to decode
// it. It is what gets appended to the History Store and handed to
// activities/workflows.
type Payload struct {
	Metadata map[string][]byte
	Data     []byte
}

// Value decodes a single Payload.
type Value interface {
	HasValue() bool
	Get(valuePtr interface{}) error
}

// Values decodes zero or more Payloads in order.
type Values interface {
	HasValues() bool
	Get(valuePtrs ...interface{}) error
}

// Converter serializes/deserializes the values that cross the
// engine/workflow/activity boundary. A tenant or activity type may
// install a non-default Converter (e.g. to add field-level
// encryption) without the engine caring.
type Converter interface {
	ToPayloads(values ...interface{}) ([]*Payload, error)
	FromPayloads(payloads []*Payload, valuePtrs ...interface{}) error
}

type defaultConverter struct{}

// Default is the JSON/raw-bytes converter used when a tenant has not
// installed a custom one.
var Default Converter = defaultConverter{}

var (
	ErrNoData                 = errors.New("payload: no data available")
	ErrTooManyArgs            = errors.New("payload: too many arguments")
	ErrMetadataNotSet         = errors.New("payload: metadata is not set")
	ErrEncodingNotSet         = errors.New("payload: encoding metadata is not set")
	ErrEncodingNotSupported   = errors.New("payload: encoding is not supported")
	ErrUnableToEncodeJSON     = errors.New("payload: unable to encode to JSON")
	ErrUnableToDecodeJSON     = errors.New("payload: unable to decode JSON")
	ErrUnableToSetBytes       = errors.New("payload: unable to set []byte value")
)

func (defaultConverter) ToPayloads(values ...interface{}) ([]*Payload, error) {
	if len(values) == 0 {
		return nil, nil
	}
	result := make([]*Payload, 0, len(values))
	for i, v := range values {
		p, err := encodeSingle(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		result = append(result, p)
	}
	return result, nil
}

func (defaultConverter) FromPayloads(payloads []*Payload, valuePtrs ...interface{}) error {
	for i, p := range payloads {
		if i >= len(valuePtrs) {
			break
		}
		if err := decodeSingle(p, valuePtrs[i]); err != nil {
			return fmt.Errorf("payloads[%d]: %w", i, err)
		}
	}
	return nil
}

func encodeSingle(value interface{}) (*Payload, error) {
	if b, ok := value.([]byte); ok {
		return &Payload{
			Metadata: map[string][]byte{metadataEncoding: []byte(metadataEncodingRaw)},
			Data:     b,
		}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnableToEncodeJSON, err)
	}
	return &Payload{
		Metadata: map[string][]byte{metadataEncoding: []byte(metadataEncodingJSON)},
		Data:     data,
	}, nil
}

func decodeSingle(p *Payload, valuePtr interface{}) error {
	if p == nil {
		return nil
	}
	if p.Metadata == nil {
		return ErrMetadataNotSet
	}
	enc, ok := p.Metadata[metadataEncoding]
	if !ok {
		return ErrEncodingNotSet
	}
	switch string(enc) {
	case metadataEncodingRaw:
		v := reflect.ValueOf(valuePtr).Elem()
		if !v.CanSet() {
			return ErrUnableToSetBytes
		}
		v.SetBytes(p.Data)
	case metadataEncodingJSON:
		if err := json.Unmarshal(p.Data, valuePtr); err != nil {
			return fmt.Errorf("%w: %v", ErrUnableToDecodeJSON, err)
		}
	default:
		return fmt.Errorf("encoding %s: %w", string(enc), ErrEncodingNotSupported)
	}
	return nil
}

type encodedValues struct {
	payloads  []*Payload
	converter Converter
}

// NewValues wraps raw payloads (as read back from the History Store)
// for strong-typed decoding by the caller.
func NewValues(payloads []*Payload, converter Converter) Values {
	if converter == nil {
		converter = Default
	}
	return &encodedValues{payloads: payloads, converter: converter}
}

func (v *encodedValues) HasValues() bool {
	return len(v.payloads) > 0
}

func (v *encodedValues) Get(valuePtrs ...interface{}) error {
	if !v.HasValues() {
		return ErrNoData
	}
	if len(valuePtrs) > len(v.payloads) {
		return ErrTooManyArgs
	}
	return v.converter.FromPayloads(v.payloads, valuePtrs...)
}

// Encode converts arbitrary Go values into Payloads using converter
// (or Default if nil).
func Encode(converter Converter, values ...interface{}) ([]*Payload, error) {
	if converter == nil {
		converter = Default
	}
	return converter.ToPayloads(values...)
}
