// Package encoding provides centralized msgpack serialization for waljson.
// ALL msgpack operations MUST go through this package to ensure consistent
// behavior between the capture writer and replay.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use. Encoder
// and Decoder are not.
package encoding

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := configureEncoder(msgpack.NewEncoder(&buf)).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v any) error {
	return configureDecoder(msgpack.NewDecoder(bytes.NewReader(data))).Decode(v)
}

// Encoder writes a stream of msgpack values.
type Encoder struct {
	enc *msgpack.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: configureEncoder(msgpack.NewEncoder(w))}
}

// Encode appends v to the stream.
func (e *Encoder) Encode(v any) error {
	return e.enc.Encode(v)
}

// Decoder reads a stream of msgpack values.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: configureDecoder(msgpack.NewDecoder(r))}
}

// Decode reads the next value into v. It returns io.EOF at the end of the
// stream.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

func configureEncoder(enc *msgpack.Encoder) *msgpack.Encoder {
	// Struct fields are written as maps keyed by their msgpack tags so that
	// captures survive added fields.
	enc.UseCompactInts(true)
	return enc
}

func configureDecoder(dec *msgpack.Decoder) *msgpack.Decoder {
	// When decoding into interface{}, strings stay strings instead of []byte.
	dec.UseLooseInterfaceDecoding(true)
	return dec
}
