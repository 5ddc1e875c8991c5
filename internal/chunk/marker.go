package chunk

import (
	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/model"
)

type markerKind int

const (
	markerNegInf markerKind = iota
	markerKey
	markerPosInf
)

const (
	negInfToken = "-inf"
	posInfToken = "+inf"
)

// Marker is an ordered boundary value delimiting chunk ranges. It is
// either one of the two keyspace sentinels or derived from a concrete
// key. Markers are immutable once constructed.
type Marker struct {
	kind markerKind
	key  model.ObjectID
}

// NegativeInfinity returns the marker ordered before every key.
func NegativeInfinity() Marker {
	return Marker{kind: markerNegInf}
}

// PositiveInfinity returns the marker ordered after every key.
func PositiveInfinity() Marker {
	return Marker{kind: markerPosInf}
}

// MarkerAt returns a finite marker at the given key boundary.
func MarkerAt(id model.ObjectID) Marker {
	return Marker{kind: markerKey, key: id}
}

// Compare establishes the strict total order over markers: the negative
// sentinel compares less than everything except itself, the positive
// sentinel greater than everything except itself, and finite markers
// compare by key order.
func (m Marker) Compare(other Marker) int {
	if m.kind != other.kind {
		if m.kind < other.kind {
			return -1
		}
		return 1
	}
	if m.kind == markerKey {
		return m.key.Compare(other.key)
	}
	return 0
}

// Equal reports structural equality.
func (m Marker) Equal(other Marker) bool {
	return m.Compare(other) == 0
}

// Covers reports whether a key falls at or after this marker, i.e. the
// marker is a valid inclusive lower bound for the key.
func (m Marker) Covers(id model.ObjectID) bool {
	switch m.kind {
	case markerNegInf:
		return true
	case markerPosInf:
		return false
	default:
		return m.key <= id
	}
}

// String renders the canonical form used verbatim in snapshot files and
// in the chunk's file identity.
func (m Marker) String() string {
	switch m.kind {
	case markerNegInf:
		return negInfToken
	case markerPosInf:
		return posInfToken
	default:
		return string(m.key)
	}
}

// ParseMarker reconstructs a marker from its canonical string form.
// The sentinel tokens are reserved and never valid as real keys.
func ParseMarker(s string) (Marker, error) {
	switch s {
	case negInfToken:
		return NegativeInfinity(), nil
	case posInfToken:
		return PositiveInfinity(), nil
	case "":
		return Marker{}, errors.InvalidMarker(s)
	default:
		return MarkerAt(model.ObjectID(s)), nil
	}
}
