package fsutil

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// DigestBytes hashes data.
func DigestBytes(data []byte) Digest {
	return blake3.Sum256(data)
}

// DigestFile hashes the contents of a file without loading it whole.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

// IdenticalFiles reports whether two files have the same size and bytes.
// Missing files are never identical.
func IdenticalFiles(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	if ia.Size() != ib.Size() {
		return false
	}
	if os.SameFile(ia, ib) {
		return true
	}

	da, err := DigestFile(a)
	if err != nil {
		return false
	}
	db, err := DigestFile(b)
	if err != nil {
		return false
	}
	return da == db
}
