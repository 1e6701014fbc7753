package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries the service messages as JSON over gRPC. Clients select
// it with grpc.CallContentSubtype(codecName).
type jsonCodec struct{}

const codecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
