package provisioning

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/zjrosen/pvdd/internal/pvd"
)

// Source values recorded for each PvD.
const (
	SourceAPI        = "api"
	sourceFilePrefix = "file:"
)

// FileSource returns the source tag of a PvD declared in path.
func FileSource(path string) string {
	return sourceFilePrefix + path
}

// IsFileSource reports whether source names a declaration file.
func IsFileSource(source string) bool {
	return strings.HasPrefix(source, sourceFilePrefix)
}

// Declaration is the desired state of one PvD.
type Declaration struct {
	Identity   string          `json:"id"`
	Attributes []pvd.Attribute `json:"attributes"`
	Addresses  []netip.Addr    `json:"addresses,omitempty"`
	// Source is FileSource(path) for file declarations and empty otherwise.
	Source string `json:"-"`
}

// Validate checks the declaration and returns its canonical identity.
func (d Declaration) Validate() (pvd.Identity, error) {
	id, err := NormalizeIdentity(d.Identity)
	if err != nil {
		return "", err
	}

	seen := make(map[string]struct{}, len(d.Attributes))
	for _, a := range d.Attributes {
		if a.Key == "" {
			return "", fmt.Errorf("%s: %w", id, pvd.ErrInvalidKey)
		}
		if _, dup := seen[a.Key]; dup {
			return "", fmt.Errorf("%s: %w: %q", id, ErrDuplicateAttribute, a.Key)
		}
		seen[a.Key] = struct{}{}
	}
	for _, addr := range d.Addresses {
		if !addr.IsValid() {
			return "", fmt.Errorf("%s: %w", id, ErrInvalidAddress)
		}
	}
	return id, nil
}

// Snapshot is the externally visible state of one PvD.
type Snapshot struct {
	Identity   pvd.Identity    `json:"id"`
	Attributes []pvd.Attribute `json:"attributes"`
	Addresses  []netip.Addr    `json:"addresses,omitempty"`
	Source     string          `json:"source"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// sameState reports whether s already holds the attributes and addresses
// of a declaration, in the same order.
func (s Snapshot) sameState(attrs []pvd.Attribute, addrs []netip.Addr, source string) bool {
	return s.Source == source &&
		slices.Equal(s.Attributes, attrs) &&
		slices.Equal(s.Addresses, canonicalAddrs(addrs))
}

// canonicalAddrs unmaps, sorts and deduplicates addrs.
func canonicalAddrs(addrs []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Unmap())
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return slices.Compact(out)
}
