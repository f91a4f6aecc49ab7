// Package keys provides utilities for loading certificates and attribute
// certificates from PEM and DER encoded files.
package keys

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/georgepadayatti/x509path/certvalidator"
)

// PEM block types
const (
	PEMTypeCertificate     = "CERTIFICATE"
	PEMTypeAttributeCert   = "ATTRIBUTE CERTIFICATE"
	pemTypeTrustedCert     = "TRUSTED CERTIFICATE"
	pemTypeX509Certificate = "X509 CERTIFICATE"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoAttrCertFound = errors.New("no attribute certificate found in data")
	ErrMultipleCerts   = errors.New("expected exactly one certificate")
)

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*certvalidator.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*certvalidator.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := LoadCertsFromPemDerData(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return certs, nil
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// PEM input may hold any number of CERTIFICATE blocks; other block types
// are skipped. DER input may be one certificate or several concatenated.
func LoadCertsFromPemDerData(data []byte) ([]*certvalidator.Certificate, error) {
	var certs []*certvalidator.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			switch block.Type {
			case PEMTypeCertificate, pemTypeTrustedCert, pemTypeX509Certificate:
			default:
				continue
			}
			cert, err := certvalidator.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		rest := data
		for len(rest) > 0 {
			der, next, err := splitDER(rest)
			if err != nil {
				return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
			}
			cert, err := certvalidator.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
			}
			certs = append(certs, cert)
			rest = next
		}
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*certvalidator.Certificate, error) {
	var allCerts []*certvalidator.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadBundle loads every certificate of the given files into a bundle.
func LoadBundle(filenames []string) (*certvalidator.CertificateBundle, error) {
	certs, err := LoadCertsFromPemDerFiles(filenames)
	if err != nil {
		return nil, err
	}
	return certvalidator.NewCertificateBundle(certs...), nil
}

// LoadAttrCertFromPemDer loads a single attribute certificate from a PEM or
// DER encoded file.
func LoadAttrCertFromPemDer(filename string) (*certvalidator.AttributeCertificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	ac, err := LoadAttrCertFromPemDerData(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return ac, nil
}

// LoadAttrCertFromPemDerData parses the first ATTRIBUTE CERTIFICATE block of
// PEM data, or the whole of DER data.
func LoadAttrCertFromPemDerData(data []byte) (*certvalidator.AttributeCertificate, error) {
	if !isPEM(data) {
		return certvalidator.ParseAttributeCertificate(data)
	}
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == PEMTypeAttributeCert {
			return certvalidator.ParseAttributeCertificate(block.Bytes)
		}
	}
	return nil, ErrNoAttrCertFound
}

// EncodeCertsPEM encodes certificates as concatenated CERTIFICATE blocks.
func EncodeCertsPEM(certs []*certvalidator.Certificate) []byte {
	var buf bytes.Buffer
	for _, cert := range certs {
		_ = pem.Encode(&buf, &pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw()})
	}
	return buf.Bytes()
}

// EncodeAttrCertPEM encodes DER bytes as an ATTRIBUTE CERTIFICATE block.
func EncodeAttrCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeAttributeCert, Bytes: der})
}

// splitDER returns the first DER element of data and the remaining bytes.
func splitDER(data []byte) (elem, rest []byte, err error) {
	input := cryptobyte.String(data)
	var raw cryptobyte.String
	var tag cbasn1.Tag
	if !input.ReadAnyASN1Element(&raw, &tag) {
		return nil, nil, errors.New("malformed DER element")
	}
	return raw, input, nil
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 10 && string(trimmed[:5]) == "-----"
}
