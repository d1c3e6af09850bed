package foldercrypto

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/nanome-ai/plugin-vault/internal/crypto"
)

// Sentinel layout:
//
//	magic "NVLK" | version (1 byte) | iterations (uint32 BE) | salt | nonce || ciphertext || tag
const (
	sentinelVersion   = 1
	sentinelPlaintext = "nanome-vault-lock"
	headerSize        = 4 + 1 + 4 + crypto.SaltSize
)

var (
	sentinelMagic = []byte("NVLK")

	errBadSentinel = errors.New("malformed lock sentinel")
)

func encodeSentinel(kdf *crypto.KDF, enc *crypto.Encryptor) ([]byte, error) {
	blob, err := enc.Encrypt([]byte(sentinelPlaintext))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, headerSize+len(blob))
	buf = append(buf, sentinelMagic...)
	buf = append(buf, sentinelVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(kdf.Iterations))
	buf = append(buf, kdf.Salt...)
	return append(buf, blob...), nil
}

func decodeSentinel(data []byte) (*crypto.KDF, []byte, error) {
	if len(data) < headerSize+crypto.NonceSize+crypto.TagSize {
		return nil, nil, errBadSentinel
	}
	if !bytes.Equal(data[:4], sentinelMagic) || data[4] != sentinelVersion {
		return nil, nil, errBadSentinel
	}
	iterations := binary.BigEndian.Uint32(data[5:9])
	if iterations == 0 || iterations > crypto.MaxIters {
		return nil, nil, errBadSentinel
	}
	salt := make([]byte, crypto.SaltSize)
	copy(salt, data[9:headerSize])
	return &crypto.KDF{Salt: salt, Iterations: int(iterations)}, data[headerSize:], nil
}
