package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Material is what the certificate authority returns for one order.
type Material struct {
	// Certificate is the PEM leaf, optionally followed by intermediates.
	Certificate []byte

	// PrivateKey is the PEM private key of the leaf.
	PrivateKey []byte

	// IssuerCertificate is the PEM issuer chain.
	IssuerCertificate []byte

	// CertURL is the authority's URL of the certificate, when known.
	CertURL string
}

// Paths locates the material files of one domain.
type Paths struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	Chain       string `json:"chain"`
}

const (
	certFileName  = "cert.pem"
	keyFileName   = "privkey.pem"
	chainFileName = "chain.pem"

	certMode = 0o644
	keyMode  = 0o600
)

// MaterialStore keeps certificate material under
// <dir>/<domain>/{cert,privkey,chain}.pem.
type MaterialStore struct {
	dir string
}

// NewMaterialStore creates a store rooted at dir.
func NewMaterialStore(dir string) *MaterialStore {
	return &MaterialStore{dir: dir}
}

// Dir returns the root directory.
func (s *MaterialStore) Dir() string {
	return s.dir
}

// DirName returns the directory name of a domain. Wildcard labels are
// spelled out so the name is a valid path segment.
func DirName(domain string) string {
	return strings.ReplaceAll(strings.ToLower(domain), "*", "_wildcard_")
}

// Paths returns where the material of domain lives.
func (s *MaterialStore) Paths(domain string) Paths {
	base := filepath.Join(s.dir, DirName(domain))
	return Paths{
		Certificate: filepath.Join(base, certFileName),
		PrivateKey:  filepath.Join(base, keyFileName),
		Chain:       filepath.Join(base, chainFileName),
	}
}

// Prepare creates the domain directory and checks it accepts new files.
func (s *MaterialStore) Prepare(domain string) error {
	base := filepath.Join(s.dir, DirName(domain))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(base, ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Write stores m for domain. Each file is replaced by rename, so a reader
// never sees a partially written file. The private key is written first
// and is readable by the owner only.
func (s *MaterialStore) Write(domain string, m *Material) (Paths, error) {
	if m == nil || len(m.Certificate) == 0 {
		return Paths{}, errors.New("empty certificate payload")
	}
	if len(m.PrivateKey) == 0 {
		return Paths{}, errors.New("empty private key payload")
	}

	paths := s.Paths(domain)
	if err := os.MkdirAll(filepath.Dir(paths.Certificate), 0o755); err != nil {
		return Paths{}, err
	}
	if err := writeFileAtomic(paths.PrivateKey, m.PrivateKey, keyMode); err != nil {
		return Paths{}, fmt.Errorf("write private key: %w", err)
	}
	if err := writeFileAtomic(paths.Certificate, m.Certificate, certMode); err != nil {
		return Paths{}, fmt.Errorf("write certificate: %w", err)
	}

	chain := m.IssuerCertificate
	if len(chain) == 0 {
		chain = m.Certificate
	}
	if err := writeFileAtomic(paths.Chain, chain, certMode); err != nil {
		return Paths{}, fmt.Errorf("write chain: %w", err)
	}
	return paths, nil
}

// Remove deletes the material of domain.
func (s *MaterialStore) Remove(domain string) error {
	return os.RemoveAll(filepath.Join(s.dir, DirName(domain)))
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := tmp.Chmod(mode); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// ParseLeaf returns the first certificate of a PEM bundle.
func ParseLeaf(bundle []byte) (*x509.Certificate, error) {
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no certificate found in PEM data")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}
