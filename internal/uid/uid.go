/*
Package uid – id generators for backing resources that cannot assign ids.

ULIDs sort by creation time, which keeps scans over generated ids in
insertion order.
*/
package uid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Crockford base-32 alphabet (no I, L, O, U).
const letters = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	timeLen   = 10
	randomLen = 16
	ulidLen   = timeLen + randomLen
)

// Generator returns a fresh id.
type Generator func() string

// ForKind resolves a generator by name: "ulid", "uuid" or "uid(n)".
func ForKind(kind string) (Generator, error) {
	switch k := strings.ToLower(strings.TrimSpace(kind)); {
	case k == "" || k == "ulid":
		return ULID, nil
	case k == "uuid":
		return UUID, nil
	case k == "uid":
		return func() string { return UID(10) }, nil
	case strings.HasPrefix(k, "uid("):
		var n int
		if _, err := fmt.Sscanf(k, "uid(%d)", &n); err != nil || n <= 0 {
			return nil, fmt.Errorf("uid: invalid generator %q", kind)
		}
		return func() string { return UID(n) }, nil
	}
	return nil, fmt.Errorf("uid: unknown generator %q", kind)
}

// UUID returns a random RFC 4122 version 4 UUID.
func UUID() string { return uuid.NewString() }

// ULID returns a 26-character ULID for the current time.
func ULID() string { return ULIDAt(time.Now()) }

// ULIDAt returns a ULID carrying the given timestamp.
func ULIDAt(t time.Time) string {
	var b strings.Builder
	b.Grow(ulidLen)
	ms := t.UnixMilli()
	var head [timeLen]byte
	for i := timeLen - 1; i >= 0; i-- {
		head[i] = letters[ms%32]
		ms /= 32
	}
	b.Write(head[:])
	b.WriteString(UID(randomLen))
	return b.String()
}

// UID returns size crypto-random base-32 characters.
func UID(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic("uid: crypto/rand read failed: " + err.Error())
	}
	for i, c := range buf {
		buf[i] = letters[c&31]
	}
	return string(buf)
}

// Time extracts the timestamp of a ULID.
func Time(s string) (time.Time, error) {
	if len(s) != ulidLen {
		return time.Time{}, fmt.Errorf("uid: invalid ULID length %d", len(s))
	}
	var ms int64
	for _, c := range []byte(s[:timeLen]) {
		idx := strings.IndexByte(letters, c)
		if idx < 0 {
			return time.Time{}, fmt.Errorf("uid: invalid ULID char %q", c)
		}
		ms = ms*32 + int64(idx)
	}
	return time.UnixMilli(ms), nil
}
