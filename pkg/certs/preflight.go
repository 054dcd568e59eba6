package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Resolver looks up host addresses. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer opens network connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const portCheckTimeout = 5 * time.Second

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateName checks the syntax of a certificate name. A leading "*."
// label is allowed.
func ValidateName(name string) error {
	host := strings.ToLower(strings.TrimSuffix(name, "."))
	if host == "" {
		return errors.New("empty name")
	}
	if len(host) > 253 {
		return fmt.Errorf("name %q is longer than 253 characters", name)
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("name %q is not fully qualified", name)
	}
	for i, label := range labels {
		if i == 0 && label == "*" {
			continue
		}
		if !labelPattern.MatchString(label) {
			return fmt.Errorf("name %q has an invalid label %q", name, label)
		}
	}
	return nil
}

// IsWildcard reports whether name is a wildcard name.
func IsWildcard(name string) bool {
	return strings.HasPrefix(name, "*.")
}

// resolvable returns the name whose DNS records prove a name exists. A
// wildcard is proven by its parent.
func resolvable(name string) string {
	return strings.TrimPrefix(name, "*.")
}

func validateNames(ctx context.Context, r Resolver, names []string, challenge string, resolve bool) error {
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return err
		}
		if IsWildcard(name) && challenge != ChallengeDNS01 {
			return fmt.Errorf("wildcard name %q requires the %s challenge", name, ChallengeDNS01)
		}
		if !resolve {
			continue
		}
		addrs, err := r.LookupHost(ctx, resolvable(name))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		if len(addrs) == 0 {
			return fmt.Errorf("resolve %s: no addresses", name)
		}
	}
	return nil
}

func checkPorts(ctx context.Context, d Dialer, host string, ports []int) error {
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		dialCtx, cancel := context.WithTimeout(ctx, portCheckTimeout)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err != nil {
			return fmt.Errorf("port %d on %s is not reachable: %w", port, host, err)
		}
		_ = conn.Close()
	}
	return nil
}

// verifyMaterial checks that the issued leaf pairs with its key, is
// currently valid and covers every expected name.
func verifyMaterial(m *Material, names []string, now time.Time) (*x509.Certificate, error) {
	if _, err := tls.X509KeyPair(m.Certificate, m.PrivateKey); err != nil {
		return nil, fmt.Errorf("certificate and key do not pair: %w", err)
	}
	leaf, err := ParseLeaf(m.Certificate)
	if err != nil {
		return nil, err
	}
	if !leaf.NotAfter.After(now) {
		return nil, fmt.Errorf("certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}

	covered := make(map[string]bool, len(leaf.DNSNames))
	for _, n := range leaf.DNSNames {
		covered[strings.ToLower(n)] = true
	}
	var missing []string
	for _, name := range names {
		if !covered[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("certificate does not cover %s", strings.Join(missing, ", "))
	}
	return leaf, nil
}
