package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpec is returned for backend descriptions that cannot be parsed.
var ErrInvalidSpec = errors.New("store: invalid backend spec") //nolint:gochecknoglobals // sentinel error

// ParseSpec parses kind[:name]:access[@location]. access is r, w or rw; the
// name defaults to the kind. Everything after the first '@' is the location,
// so DSNs with credentials are kept intact.
func ParseSpec(raw string) (Spec, error) {
	head, location, _ := strings.Cut(strings.TrimSpace(raw), "@")

	parts := strings.Split(head, ":")
	var spec Spec
	switch len(parts) {
	case 2:
		spec = Spec{Kind: Kind(parts[0]), Name: parts[0]}
	case 3:
		spec = Spec{Kind: Kind(parts[0]), Name: parts[1]}
	default:
		return Spec{}, fmt.Errorf("store.ParseSpec(%q): want kind[:name]:access: %w", raw, ErrInvalidSpec)
	}
	if spec.Kind == "" || spec.Name == "" {
		return Spec{}, fmt.Errorf("store.ParseSpec(%q): empty kind or name: %w", raw, ErrInvalidSpec)
	}

	switch parts[len(parts)-1] {
	case "r":
		spec.Readable = true
	case "w":
		spec.Writable = true
	case "rw", "wr":
		spec.Readable, spec.Writable = true, true
	default:
		return Spec{}, fmt.Errorf("store.ParseSpec(%q): access %q: %w", raw, parts[len(parts)-1], ErrInvalidSpec)
	}

	spec.Location = location
	return spec, nil
}

// String renders s in the form ParseSpec accepts, without the location.
func (s Spec) String() string {
	access := ""
	if s.Readable {
		access += "r"
	}
	if s.Writable {
		access += "w"
	}
	return string(s.Kind) + ":" + s.Name + ":" + access
}
