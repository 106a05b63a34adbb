// Package ids implements the record identifiers shared by every store.
//
// An ID is a UUIDv7: the leading 48 bits carry the creation time in
// milliseconds and the following bits a per-process monotonic sequence, so the
// byte order, the canonical string order and the creation order all agree.
// Pagination cursors and tie-breaking rely on that total order.
package ids

import (
	"bytes"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a caller supplied identifier cannot be parsed.
var ErrMalformed = errors.New("ids: malformed identifier")

// ID is an opaque, totally ordered record identifier.
type ID uuid.UUID

// Nil is the zero identifier. It never names a stored record.
var Nil ID

// Generator produces fresh identifiers.
type Generator func() (ID, error)

// New returns a fresh identifier that compares greater than every identifier
// previously returned by New in this process.
func New() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return Nil, fmt.Errorf("ids: generate: %w", err)
	}
	return ID(u), nil
}

// Must is a helper for callers that cannot recover from entropy failures.
func Must(id ID, err error) ID {
	if err != nil {
		panic(err)
	}
	return id
}

// At builds a deterministic identifier for the given instant and sequence.
// Identifiers built with At order by (t, seq) and interleave correctly with
// identifiers produced by New.
func At(t time.Time, seq uint16) ID {
	var id ID
	ms := uint64(t.UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	id[6] = 0x70 | byte(seq>>8)&0x0f
	id[7] = byte(seq)
	id[8] = 0x80
	return id
}

// Parse validates an externally supplied identifier.
func Parse(s string) (ID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	u, err := uuid.Parse(trimmed)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if u == uuid.Nil {
		return Nil, fmt.Errorf("%w: nil identifier", ErrMalformed)
	}
	return ID(u), nil
}

// ParseAll parses every element of values, failing on the first malformed one.
func ParseAll(values []string) ([]ID, error) {
	out := make([]ID, 0, len(values))
	for _, v := range values {
		id, err := Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to or
// after b.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Compare orders id relative to other.
func (id ID) Compare(other ID) int { return Compare(id, other) }

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool { return Compare(id, other) < 0 }

// IsZero reports whether id is the Nil identifier.
func (id ID) IsZero() bool { return id == Nil }

// String returns the canonical lower-case form.
func (id ID) String() string { return uuid.UUID(id).String() }

// Time returns the creation instant encoded in the identifier.
func (id ID) Time() time.Time {
	var buf [8]byte
	copy(buf[2:], id[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(buf[:]))).UTC()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores identifiers as canonical text so that SQL ordering matches
// Compare.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	case nil:
		*id = Nil
		return nil
	default:
		return fmt.Errorf("ids: cannot scan %T", src)
	}
}

// Unique removes duplicates from values keeping the first occurrence of each.
func Unique(values []ID) []ID {
	seen := make(map[ID]struct{}, len(values))
	out := make([]ID, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Strings renders values in canonical form.
func Strings(values []ID) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}
