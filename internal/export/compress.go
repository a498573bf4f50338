package export

import (
	"strings"

	"github.com/klauspost/compress/zstd"
)

const zstdSuffix = ".zst"

// encodeFor compresses data with zstd when name ends in ".zst" and returns
// it unchanged otherwise, along with the matching content type.
func encodeFor(name string, data []byte) ([]byte, string, error) {
	if !strings.HasSuffix(name, zstdSuffix) {
		return data, "application/x-ndjson", nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, "", err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), "application/zstd", nil
}

// Decode reverses encodeFor for a payload stored under name.
func Decode(name string, data []byte) ([]byte, error) {
	if !strings.HasSuffix(name, zstdSuffix) {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
