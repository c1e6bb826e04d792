package provisioning

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/zjrosen/pvdd/internal/pvd"
)

// NormalizeIdentity validates s as a domain name and returns its canonical
// form: lower case and fully qualified. The root name is rejected.
func NormalizeIdentity(s string) (pvd.Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentity)
	}
	labels, ok := dns.IsDomainName(s)
	if !ok || labels == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return pvd.Identity(dns.CanonicalName(s)), nil
}
