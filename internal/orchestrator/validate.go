// File: internal/orchestrator/validate.go
// Description: Target URL validation. Runs before any session is acquired so
// a bad target never costs a browser launch, and refuses URLs that would
// point the driver at internal infrastructure.

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/argus-qa/playprobe/internal/faults"
)

// lookupFunc resolves a hostname. Swappable in tests.
type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// targetValidator checks that a target URL is well formed and publicly
// routable.
type targetValidator struct {
	lookup lookupFunc
}

func newTargetValidator() *targetValidator {
	return &targetValidator{
		lookup: net.DefaultResolver.LookupIPAddr,
	}
}

// Validate rejects malformed URLs, non-web schemes and targets that resolve
// to loopback, private, link-local or unspecified addresses. Every rejection
// is a Validation fault naming the violated rule.
func (v *targetValidator) Validate(ctx context.Context, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return faults.NewValidation("target.url_empty", fmt.Errorf("target URL is empty"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return faults.NewValidation("target.url_malformed", fmt.Errorf("target URL %q is malformed: %w", raw, err))
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return faults.NewValidation("target.scheme", fmt.Errorf("target URL scheme %q is not http or https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return faults.NewValidation("target.host_missing", fmt.Errorf("target URL %q has no host", raw))
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.checkIP(ip, host)
	}

	if strings.EqualFold(host, "localhost") {
		return faults.NewValidation("target.host_loopback", fmt.Errorf("target host %q is loopback", host))
	}

	addrs, err := v.lookup(ctx, host)
	if err != nil {
		return faults.NewValidation("target.host_unresolvable", fmt.Errorf("target host %q did not resolve: %w", host, err))
	}
	for _, addr := range addrs {
		if err := v.checkIP(addr.IP, host); err != nil {
			return err
		}
	}
	return nil
}

func (v *targetValidator) checkIP(ip net.IP, host string) error {
	switch {
	case ip.IsLoopback():
		return faults.NewValidation("target.host_loopback", fmt.Errorf("target host %q resolves to loopback address %s", host, ip))
	case ip.IsPrivate():
		return faults.NewValidation("target.host_private", fmt.Errorf("target host %q resolves to private address %s", host, ip))
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return faults.NewValidation("target.host_link_local", fmt.Errorf("target host %q resolves to link-local address %s", host, ip))
	case ip.IsUnspecified():
		return faults.NewValidation("target.host_unspecified", fmt.Errorf("target host %q resolves to unspecified address %s", host, ip))
	}
	return nil
}
