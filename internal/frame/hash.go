package frame

import (
	"crypto/sha256"
	"encoding/base64"
)

// Byte offsets of the fixed header fields the hash skips.
const (
	tileByte     = 4
	payloadShort = 8  // timestamp present
	payloadLong  = 12 // timestamp zero, time base follows
)

// Hash digests the encoded frame without the sequence, author and time
// fields, which the accepting authority rewrites. A frame sent by a client and
// the copy echoed back by the server hash the same.
func (f *Frame) Hash() ([32]byte, error) {
	f.hashOnce.Do(func() {
		data, err := f.Bytes()
		if err != nil {
			f.hashErr = err
			return
		}
		f.hash = hashPayload(data)
	})
	return f.hash, f.hashErr
}

// HashString returns the hash as unpadded url-safe base64.
func (f *Frame) HashString() (string, error) {
	h, err := f.Hash()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(h[:]), nil
}

func hashPayload(data []byte) [32]byte {
	start := payloadShort
	if data[6] == 0 && data[7] == 0 {
		start = payloadLong
	}
	h := sha256.New()
	h.Write(data[tileByte:payloadShort-2])
	h.Write(data[start:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
