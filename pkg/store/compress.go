// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/teradata-labs/warp/pkg/types"
)

// compressThreshold is the serialized size above which message transcripts
// are stored zstd-compressed. Small blobs stay plain JSON so the database
// remains inspectable with the sqlite3 shell.
const compressThreshold = 4096

// blobMagic prefixes compressed blobs. JSON can never start with these
// bytes, so decoding is unambiguous.
var blobMagic = []byte("WZST")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeMessages serializes a transcript, compressing large ones.
func encodeMessages(messages []types.Message) ([]byte, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	if len(data) <= compressThreshold {
		return data, nil
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	out := make([]byte, 0, len(blobMagic)+len(compressed))
	out = append(out, blobMagic...)
	out = append(out, compressed...)
	return out, nil
}

// decodeMessages reverses encodeMessages.
func decodeMessages(blob []byte) ([]types.Message, error) {
	if bytes.HasPrefix(blob, blobMagic) {
		data, err := zstdDecoder.DecodeAll(blob[len(blobMagic):], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress messages: %w", err)
		}
		blob = data
	}
	var messages []types.Message
	if err := json.Unmarshal(blob, &messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return messages, nil
}
