package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// CanonicalJSON serializes a value into a stable canonical form: object
// keys sorted, no insignificant whitespace. Structs are normalized through
// a marshal/unmarshal round trip so field order never leaks into the hash.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize value")
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, errors.Wrap(err, "canonicalize value")
	}
	// encoding/json writes map keys in sorted order, which makes the
	// second marshal canonical.
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize value")
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of a value's canonical JSON form.
// Equal values hash equally regardless of map ordering or struct layout.
func Hash(v interface{}) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the SHA-256 hex digest of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "hash file %s", path)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hash file %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
