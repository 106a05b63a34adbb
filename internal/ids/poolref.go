package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PoolRefKind tags the variant held by a PoolRef.
type PoolRefKind string

const (
	// PoolRefNone marks a segment that does not point into a pool.
	PoolRefNone PoolRefKind = ""
	// PoolRefNative points at another record in this system.
	PoolRefNative PoolRefKind = "native"
	// PoolRefExternalUUID points at a record in an external system keyed by UUID.
	PoolRefExternalUUID PoolRefKind = "uuid"
	// PoolRefOpaque carries a free-form reference string.
	PoolRefOpaque PoolRefKind = "opaque"
)

// PoolRef references the annotation pool entry a segment was cut from.
// Exactly one of the variants is populated, selected by Kind.
type PoolRef struct {
	kind     PoolRefKind
	native   ID
	external uuid.UUID
	opaque   string
}

// NativePoolRef references a record stored by this system.
func NativePoolRef(id ID) PoolRef {
	return PoolRef{kind: PoolRefNative, native: id}
}

// ExternalPoolRef references a record held elsewhere under a UUID.
func ExternalPoolRef(u uuid.UUID) PoolRef {
	return PoolRef{kind: PoolRefExternalUUID, external: u}
}

// OpaquePoolRef wraps a reference the system does not interpret.
func OpaquePoolRef(s string) PoolRef {
	if s == "" {
		return PoolRef{}
	}
	return PoolRef{kind: PoolRefOpaque, opaque: s}
}

// ClassifyPoolRef applies the import conversion rules to an untyped value:
// UUIDv7 strings become native references, other UUIDs external references and
// everything else stays opaque.
func ClassifyPoolRef(value string) PoolRef {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return PoolRef{}
	}
	u, err := uuid.Parse(trimmed)
	if err != nil || u == uuid.Nil {
		return OpaquePoolRef(trimmed)
	}
	if u.Version() == 7 {
		return NativePoolRef(ID(u))
	}
	return ExternalPoolRef(u)
}

// DecodePoolRef rebuilds a reference from its stored (kind, value) pair.
func DecodePoolRef(kind, value string) (PoolRef, error) {
	switch PoolRefKind(kind) {
	case PoolRefNone:
		return PoolRef{}, nil
	case PoolRefNative:
		id, err := Parse(value)
		if err != nil {
			return PoolRef{}, err
		}
		return NativePoolRef(id), nil
	case PoolRefExternalUUID:
		u, err := uuid.Parse(value)
		if err != nil {
			return PoolRef{}, fmt.Errorf("%w: external pool reference %q", ErrMalformed, value)
		}
		return ExternalPoolRef(u), nil
	case PoolRefOpaque:
		return OpaquePoolRef(value), nil
	default:
		return PoolRef{}, fmt.Errorf("ids: unknown pool reference kind %q", kind)
	}
}

// Encode returns the (kind, value) pair persisted for the reference.
func (p PoolRef) Encode() (string, string) {
	return string(p.kind), p.String()
}

// Kind returns the variant tag.
func (p PoolRef) Kind() PoolRefKind { return p.kind }

// Native returns the referenced identifier when the variant is native.
func (p PoolRef) Native() (ID, bool) { return p.native, p.kind == PoolRefNative }

// External returns the referenced UUID when the variant is external.
func (p PoolRef) External() (uuid.UUID, bool) { return p.external, p.kind == PoolRefExternalUUID }

// Opaque returns the raw reference when the variant is opaque.
func (p PoolRef) Opaque() (string, bool) { return p.opaque, p.kind == PoolRefOpaque }

// String renders the referenced value without its tag.
func (p PoolRef) String() string {
	switch p.kind {
	case PoolRefNative:
		return p.native.String()
	case PoolRefExternalUUID:
		return p.external.String()
	case PoolRefOpaque:
		return p.opaque
	default:
		return ""
	}
}
