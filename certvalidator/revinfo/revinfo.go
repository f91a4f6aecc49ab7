// Package revinfo provides revocation checking over CRLs and OCSP responses
// supplied by the caller. Nothing is fetched from the network.
package revinfo

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
	"k8s.io/klog/v2"

	"github.com/georgepadayatti/x509path/certvalidator"
)

// Common errors
var (
	ErrCRLExpired       = errors.New("CRL has expired")
	ErrCRLNotYetValid   = errors.New("CRL is not yet valid")
	ErrOCSPExpired      = errors.New("OCSP response has expired")
	ErrOCSPNotYetValid  = errors.New("OCSP response is not yet valid")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrNoRevocationInfo = errors.New("no revocation information available")
)

var (
	oidCRLNumber         = asn1.ObjectIdentifier{2, 5, 29, 20}
	oidDeltaCRLIndicator = asn1.ObjectIdentifier{2, 5, 29, 27}
)

// RevocationReason represents the reason for certificate revocation.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

// String returns the string representation of a revocation reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// RevocationStatus represents the revocation status of a certificate.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

// String returns the string representation of a revocation status.
func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationInfo contains information about a certificate's revocation status.
type RevocationInfo struct {
	// Status is the revocation status
	Status RevocationStatus
	// RevocationTime is when the certificate was revoked (if revoked)
	RevocationTime *time.Time
	// Reason is the revocation reason (if revoked)
	Reason RevocationReason
	// Source indicates where the info came from ("CRL" or "OCSP")
	Source string
	// ThisUpdate is the thisUpdate time from OCSP/CRL
	ThisUpdate time.Time
	// NextUpdate is when new revocation info should be available
	NextUpdate *time.Time
}

// IsValid checks if the revocation info is current at the given time.
func (ri *RevocationInfo) IsValid(at time.Time) bool {
	if at.Before(ri.ThisUpdate) {
		return false
	}
	if ri.NextUpdate != nil && at.After(*ri.NextUpdate) {
		return false
	}
	return true
}

// RevokedError is returned by Checker.CheckRevocation for a revoked
// certificate. It matches certvalidator.ErrCertificateRevoked.
type RevokedError struct {
	Serial *big.Int
	Info   *RevocationInfo
}

func (e *RevokedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "certificate %s revoked", e.Serial)
	if e.Info.RevocationTime != nil {
		fmt.Fprintf(&sb, " at %s", e.Info.RevocationTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, " (%s, per %s)", e.Info.Reason, e.Info.Source)
	return sb.String()
}

// Unwrap returns certvalidator.ErrCertificateRevoked.
func (e *RevokedError) Unwrap() error {
	return certvalidator.ErrCertificateRevoked
}

// CRLInfo contains parsed CRL information.
type CRLInfo struct {
	// Raw CRL data
	Raw []byte
	// Parsed CRL
	CRL *x509.RevocationList
	// CRL number, nil when absent
	Number *big.Int
	// Whether this is a delta CRL
	IsDelta bool
	// Base CRL number (for delta CRLs)
	BaseCRLNumber *big.Int
}

// NewCRLInfo parses a DER encoded CRL.
func NewCRLInfo(raw []byte) (*CRLInfo, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}

	info := &CRLInfo{Raw: raw, CRL: crl, Number: CRLNumber(crl), IsDelta: IsDeltaCRL(crl)}
	if info.IsDelta {
		info.BaseCRLNumber = baseCRLNumber(crl)
	}
	return info, nil
}

func baseCRLNumber(crl *x509.RevocationList) *big.Int {
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidDeltaCRLIndicator) {
			var n big.Int
			if _, err := asn1.Unmarshal(ext.Value, &n); err == nil {
				return &n
			}
		}
	}
	return nil
}

// newerThan reports whether ci carries a higher CRL number than other.
func (ci *CRLInfo) newerThan(other *CRLInfo) bool {
	if ci.Number == nil {
		return false
	}
	return other.Number == nil || ci.Number.Cmp(other.Number) > 0
}

// Validate checks that the CRL was issued and signed by issuer and is
// current at the given time.
func (ci *CRLInfo) Validate(issuer *x509.Certificate, at time.Time) error {
	if !bytes.Equal(ci.CRL.RawIssuer, issuer.RawSubject) {
		return ErrIssuerMismatch
	}
	if at.Before(ci.CRL.ThisUpdate) {
		return ErrCRLNotYetValid
	}
	if !ci.CRL.NextUpdate.IsZero() && at.After(ci.CRL.NextUpdate) {
		return ErrCRLExpired
	}
	if err := ci.CRL.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// CheckCertificate looks the serial number of cert up in the CRL.
func (ci *CRLInfo) CheckCertificate(cert *x509.Certificate) *RevocationInfo {
	info := &RevocationInfo{
		Status:     StatusGood,
		Source:     "CRL",
		ThisUpdate: ci.CRL.ThisUpdate,
	}
	if !ci.CRL.NextUpdate.IsZero() {
		next := ci.CRL.NextUpdate
		info.NextUpdate = &next
	}
	if entry := FindRevokedCertificate(ci.CRL, cert.SerialNumber); entry != nil {
		revTime := entry.RevocationTime
		info.Status = StatusRevoked
		info.RevocationTime = &revTime
		info.Reason = entry.ReasonCode
	}
	return info
}

// OCSPInfo contains an OCSP response verified for one certificate.
type OCSPInfo struct {
	// Raw OCSP response data
	Raw []byte
	// Parsed OCSP response
	Response *ocsp.Response
}

// NewOCSPInfo parses raw as a response about cert and verifies its
// signature against issuer, directly or through a delegated responder.
func NewOCSPInfo(raw []byte, cert, issuer *x509.Certificate) (*OCSPInfo, error) {
	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	return &OCSPInfo{Raw: raw, Response: resp}, nil
}

// Validate checks the response is current at the given time.
func (oi *OCSPInfo) Validate(at time.Time) error {
	if at.Before(oi.Response.ThisUpdate) {
		return ErrOCSPNotYetValid
	}
	if !oi.Response.NextUpdate.IsZero() && at.After(oi.Response.NextUpdate) {
		return ErrOCSPExpired
	}
	return nil
}

// ToRevocationInfo converts the OCSP response to RevocationInfo.
func (oi *OCSPInfo) ToRevocationInfo() *RevocationInfo {
	info := &RevocationInfo{
		Source:     "OCSP",
		ThisUpdate: oi.Response.ThisUpdate,
	}
	if !oi.Response.NextUpdate.IsZero() {
		next := oi.Response.NextUpdate
		info.NextUpdate = &next
	}

	switch oi.Response.Status {
	case ocsp.Good:
		info.Status = StatusGood
	case ocsp.Revoked:
		revokedAt := oi.Response.RevokedAt
		info.Status = StatusRevoked
		info.RevocationTime = &revokedAt
		info.Reason = RevocationReason(oi.Response.RevocationReason)
	default:
		info.Status = StatusUnknown
	}
	return info
}

// Mode defines what happens when no usable revocation information exists.
type Mode int

const (
	// ModeSoftFail accepts certificates without revocation information.
	ModeSoftFail Mode = iota
	// ModeHardFail rejects certificates without revocation information.
	ModeHardFail
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if m == ModeHardFail {
		return "hard-fail"
	}
	return "soft-fail"
}

// ParseMode parses "soft-fail" or "hard-fail". An empty string selects soft-fail.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "soft-fail", "soft":
		return ModeSoftFail, nil
	case "hard-fail", "hard":
		return ModeHardFail, nil
	default:
		return ModeSoftFail, fmt.Errorf("unknown revocation mode %q", s)
	}
}

// Checker implements certvalidator.RevocationChecker over the CRLs and OCSP
// responses added to it. It is safe for concurrent use.
type Checker struct {
	// Mode decides the outcome when no information applies.
	Mode Mode
	// PreferOCSP consults OCSP responses before CRLs.
	PreferOCSP bool

	Logger klog.Logger

	mu    sync.RWMutex
	crls  []*CRLInfo
	ocsps [][]byte
}

var _ certvalidator.RevocationChecker = (*Checker)(nil)

// NewChecker creates a checker with the given mode that prefers OCSP.
func NewChecker(mode Mode) *Checker {
	return &Checker{Mode: mode, PreferOCSP: true}
}

// AddCRL parses and adds a DER encoded CRL.
func (c *Checker) AddCRL(der []byte) error {
	info, err := NewCRLInfo(der)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crls = append(c.crls, info)
	return nil
}

// AddOCSPResponse adds a DER encoded OCSP response. Responses are parsed
// and verified when a certificate is checked, since that needs its issuer.
func (c *Checker) AddOCSPResponse(der []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ocsps = append(c.ocsps, append([]byte(nil), der...))
}

// Count returns the number of CRLs and OCSP responses held.
func (c *Checker) Count() (crls, ocsps int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.crls), len(c.ocsps)
}

// Status returns the revocation status of cert at the given time. A status
// of StatusUnknown is returned with ErrNoRevocationInfo when nothing applies.
func (c *Checker) Status(ctx context.Context, cert, issuer *certvalidator.Certificate, at time.Time) (*RevocationInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.PreferOCSP {
		if info := c.checkOCSP(cert.X509(), issuer.X509(), at); info != nil {
			return info, nil
		}
		if info := c.checkCRL(cert.X509(), issuer.X509(), at); info != nil {
			return info, nil
		}
	} else {
		if info := c.checkCRL(cert.X509(), issuer.X509(), at); info != nil {
			return info, nil
		}
		if info := c.checkOCSP(cert.X509(), issuer.X509(), at); info != nil {
			return info, nil
		}
	}
	return &RevocationInfo{Status: StatusUnknown}, ErrNoRevocationInfo
}

// CheckRevocation implements certvalidator.RevocationChecker.
func (c *Checker) CheckRevocation(ctx context.Context, cert, issuer *certvalidator.Certificate, at time.Time) error {
	info, err := c.Status(ctx, cert, issuer, at)
	switch {
	case errors.Is(err, ErrNoRevocationInfo):
		if c.Mode == ModeHardFail {
			return fmt.Errorf("%w: %v", certvalidator.ErrRevocationUnknown, err)
		}
		c.Logger.V(4).Info("No revocation information, accepting", "subject", cert.Subject().String())
		return nil
	case err != nil:
		return err
	}

	if info.Status == StatusRevoked {
		c.Logger.V(2).Info("Certificate revoked", "subject", cert.Subject().String(), "source", info.Source, "reason", info.Reason.String())
		return &RevokedError{Serial: cert.SerialNumber(), Info: info}
	}
	return nil
}

// checkOCSP returns the first definitive answer among the OCSP responses.
func (c *Checker) checkOCSP(cert, issuer *x509.Certificate, at time.Time) *RevocationInfo {
	c.mu.RLock()
	responses := c.ocsps
	c.mu.RUnlock()

	for _, raw := range responses {
		oi, err := NewOCSPInfo(raw, cert, issuer)
		if err != nil {
			continue
		}
		if err := oi.Validate(at); err != nil {
			c.Logger.V(4).Info("Skipping OCSP response", "error", err.Error())
			continue
		}
		if info := oi.ToRevocationInfo(); info.Status != StatusUnknown {
			return info
		}
	}
	return nil
}

// checkCRL returns the status from the complete CRL with the highest CRL
// number among those that apply. Delta CRLs are not combined with their
// base and are skipped.
func (c *Checker) checkCRL(cert, issuer *x509.Certificate, at time.Time) *RevocationInfo {
	c.mu.RLock()
	crls := c.crls
	c.mu.RUnlock()

	var best *CRLInfo
	for _, ci := range crls {
		if ci.IsDelta {
			continue
		}
		if err := ci.Validate(issuer, at); err != nil {
			if !errors.Is(err, ErrIssuerMismatch) {
				c.Logger.V(4).Info("Skipping CRL", "issuer", ci.CRL.Issuer.String(), "error", err.Error())
			}
			continue
		}
		if best == nil || ci.newerThan(best) {
			best = ci
		}
	}
	if best == nil {
		return nil
	}
	return best.CheckCertificate(cert)
}

// CRLNumber returns the CRL number from a CRL.
func CRLNumber(crl *x509.RevocationList) *big.Int {
	if crl.Number != nil {
		return crl.Number
	}
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidCRLNumber) {
			var num big.Int
			if _, err := asn1.Unmarshal(ext.Value, &num); err == nil {
				return &num
			}
		}
	}
	return nil
}

// IsDeltaCRL checks if a CRL is a delta CRL.
func IsDeltaCRL(crl *x509.RevocationList) bool {
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidDeltaCRLIndicator) {
			return true
		}
	}
	return false
}

// RevocationEntry represents a single revocation entry.
type RevocationEntry struct {
	SerialNumber   *big.Int
	RevocationTime time.Time
	ReasonCode     RevocationReason
}

// FindRevokedCertificate searches for a serial number in a CRL.
func FindRevokedCertificate(crl *x509.RevocationList, serial *big.Int) *RevocationEntry {
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(serial) == 0 {
			return &RevocationEntry{
				SerialNumber:   entry.SerialNumber,
				RevocationTime: entry.RevocationTime,
				ReasonCode:     RevocationReason(entry.ReasonCode),
			}
		}
	}
	return nil
}
