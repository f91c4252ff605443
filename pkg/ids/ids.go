// Package ids implements the gateway's externally-visible typed
// identifiers of the shape "<family>~<uuid>" (spec.md §3). Internally
// only the UUID is stored and compared; the family is carried solely for
// presentation and to catch cross-family misuse at the boundary.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Family distinguishes the entity kind encoded in an identifier's prefix.
type Family string

const (
	Upstream Family = "ups"
	Route    Family = "rt"
	Plugin   Family = "plg"
)

// ID is a tenant-scoped, family-typed identifier.
type ID struct {
	Family Family
	UUID   uuid.UUID
}

// New generates a fresh identifier for the given family.
func New(family Family) ID {
	return ID{Family: family, UUID: uuid.New()}
}

// String renders the "<family>~<uuid>" external form.
func (id ID) String() string {
	return fmt.Sprintf("%s~%s", id.Family, id.UUID.String())
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Family == "" && id.UUID == uuid.Nil
}

// MarshalJSON renders id as its "<family>~<uuid>" external form.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses id from its "<family>~<uuid>" external form.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes an external "<family>~<uuid>" identifier, verifying the
// family matches one of the expected families (a single expected family
// is the common case; callers matching any family pass none).
func Parse(s string, expect ...Family) (ID, error) {
	family, rest, ok := strings.Cut(s, "~")
	if !ok {
		return ID{}, fmt.Errorf("ids: malformed identifier %q: missing family separator", s)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return ID{}, fmt.Errorf("ids: malformed identifier %q: %w", s, err)
	}
	id := ID{Family: Family(family), UUID: u}
	if len(expect) == 0 {
		return id, nil
	}
	for _, f := range expect {
		if id.Family == f {
			return id, nil
		}
	}
	return ID{}, fmt.Errorf("ids: identifier %q has family %q, expected one of %v", s, id.Family, expect)
}
