package cache

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes cache entries for a Backend.
type Codec interface {
	Name() string
	Marshal(entry *CacheEntry) ([]byte, error)
	Unmarshal(data []byte, entry *CacheEntry) error
}

// JSONCodec stores entries as JSON documents.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(entry *CacheEntry) ([]byte, error) {
	return json.Marshal(entry)
}

func (JSONCodec) Unmarshal(data []byte, entry *CacheEntry) error {
	return json.Unmarshal(data, entry)
}

// MsgpackCodec stores entries as msgpack blobs, which keeps binary bodies compact.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(entry *CacheEntry) ([]byte, error) {
	return msgpack.Marshal(entry)
}

func (MsgpackCodec) Unmarshal(data []byte, entry *CacheEntry) error {
	return msgpack.Unmarshal(data, entry)
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
