package codegen

import (
	"github.com/minio/highwayhash"
)

var hashKey = []byte("F0E1D2C3B4A59687F0E1D2C3B4A59687")

// contentHash returns a stable 64-bit digest of data; identical content
// always produces identical digests across runs
func contentHash(data []byte) uint64 {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum64()
}
