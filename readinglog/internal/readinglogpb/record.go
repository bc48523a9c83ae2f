// Package readinglogpb holds the protobuf encoding of
// reading log records. Record mirrors record.proto.
package readinglogpb

import (
	"github.com/golang/protobuf/proto"
)

// Record holds a single reading as stored in the bolt reading log.
type Record struct {
	Timestamp int64   `protobuf:"fixed64,1,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Power     float64 `protobuf:"fixed64,2,opt,name=power,proto3" json:"power,omitempty"`
	Voltage   float64 `protobuf:"fixed64,3,opt,name=voltage,proto3" json:"voltage,omitempty"`
	Current   float64 `protobuf:"fixed64,4,opt,name=current,proto3" json:"current,omitempty"`
}

func (r *Record) Reset()         { *r = Record{} }
func (r *Record) String() string { return proto.CompactTextString(r) }
func (*Record) ProtoMessage()    {}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Record) MarshalBinary() ([]byte, error) {
	return proto.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error {
	return proto.Unmarshal(data, r)
}
