package rpc

import (
	"bytes"
	"encoding/json"

	"connectrpc.com/connect"
)

var _ connect.Codec = JSONCodec{}

// JSONCodec encodes plain Go messages as JSON. Numbers are decoded as
// json.Number so raw snapshot counters keep their exact value.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(msg)
}

// charsetJSONCodec serves requests sent as "application/json; charset=utf-8",
// which connect resolves to a codec of its own name.
type charsetJSONCodec struct{ JSONCodec }

func (charsetJSONCodec) Name() string { return "json; charset=utf-8" }
