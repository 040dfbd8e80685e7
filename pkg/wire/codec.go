// Package wire supplies the gRPC codec the daemon's hand-built
// ServiceDesc (cmd/rrockerd) dispatches through. There is no generated
// protobuf code in this tree — api/proto/rrockerd.proto documents the
// wire contract, but nothing compiles it — so request/reply structs
// are plain Go types (pkg/service's StartTaskRequest and friends)
// instead of proto.Message implementations. gob, already the C1
// result-channel codec (pkg/pipe), serves the gRPC transport the same
// way: no schema compiler, any registered Go type round-trips.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is registered in place of gRPC's default "proto" codec. A
// client and server built from this module are the only participants
// on this wire, so overriding the default content-subtype is safe;
// nothing here claims interoperability with a real protobuf client.
const Name = "proto"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Name() string { return Name }

func (codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encoding %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("wire: decoding into %T: %w", v, err)
	}
	return nil
}
