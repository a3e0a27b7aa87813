package repomd

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rpmqd/rpmqd"
)

// Codec names a compression format detected from a file's extension or
// magic bytes. See spec §4.2, §6.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

var gzipMagic = []byte{0x1f, 0x8b}
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DetectCodec reports the codec for a location-href by extension, falling
// back to sniffing the first few bytes when the extension is absent or
// unrecognized.
func DetectCodec(href string, peek []byte) Codec {
	switch strings.ToLower(path.Ext(href)) {
	case ".gz":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	}
	switch {
	case bytes.HasPrefix(peek, gzipMagic):
		return CodecGzip
	case bytes.HasPrefix(peek, zstdMagic):
		return CodecZstd
	default:
		return CodecNone
	}
}

// Decompress returns a reader over r's decompressed contents according to
// codec. The returned reader must be fully drained or closed by callers
// that need to release decoder resources; zstd decoders in particular hold
// a background goroutine until Close (via [io.Closer]) or EOF.
func Decompress(r io.Reader, codec Codec) (io.Reader, error) {
	switch codec {
	case CodecNone, "":
		return r, nil
	case CodecGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrCompression, "repomd.Decompress", err)
		}
		return gr, nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrCompression, "repomd.Decompress", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, rpmqd.Newf(rpmqd.ErrCompression, "repomd.Decompress", "unknown codec %q", codec)
	}
}

// VerifyChecksum reports whether data's sha256 digest matches want (a hex
// string, as repomd.xml declares it). Only sha256 is supported, since that
// is the only checksum type this module has observed in rpm-md repomd.xml
// documents; any other declared type is treated as unverifiable and passes
// without comparison, so a repository using a legacy digest doesn't block
// ingest entirely.
func VerifyChecksum(data []byte, checksumType, want string) error {
	if !strings.EqualFold(checksumType, "sha256") {
		return nil
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, want) {
		return rpmqd.Newf(rpmqd.ErrParse, "repomd.VerifyChecksum", "checksum mismatch: want %s got %s", want, got)
	}
	return nil
}
