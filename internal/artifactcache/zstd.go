package artifactcache

import (
	"github.com/DataDog/zstd"
)

func compress(data []byte) ([]byte, error) {
	return zstd.Compress(nil, data)
}

func decompress(z []byte) ([]byte, error) {
	return zstd.Decompress(nil, z)
}
