package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/georgepadayatti/x509path/certvalidator"
	"github.com/georgepadayatti/x509path/certvalidator/revinfo"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("ConfigError does not unwrap to ErrConfigurationError")
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestProcessOID(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		shouldError bool
	}{
		{"1.2.3.4", "1.2.3.4", false},
		{"any-policy", certvalidator.AnyPolicy, false},
		{"anyPolicy", certvalidator.AnyPolicy, false},
		{"sha256", "", true},
		{"1", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		result, err := ProcessOID(tt.input)
		if tt.shouldError {
			if !errors.Is(err, ErrInvalidOID) {
				t.Errorf("ProcessOID(%q) error = %v, want ErrInvalidOID", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ProcessOID(%q) unexpected error: %v", tt.input, err)
		}
		if result != tt.expected {
			t.Errorf("ProcessOID(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cnName, err := certvalidator.NameFromPKIX(pkix.Name{CommonName: "Gateway"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		spec    string
		want    certvalidator.Target
		wantErr bool
	}{
		{"dns:www.example.com", certvalidator.NewTargetName(certvalidator.NewDNSName("www.example.com")), false},
		{"email:ops@example.com", certvalidator.NewTargetName(certvalidator.NewEmailName("ops@example.com")), false},
		{"group:uri:https://example.com/admins", certvalidator.NewTargetGroup(certvalidator.NewURIName("https://example.com/admins")), false},
		{"cn:Gateway", certvalidator.NewTargetName(certvalidator.NewDirectoryName(cnName)), false},
		{"ip:not-an-ip", certvalidator.Target{}, true},
		{"fax:1234", certvalidator.Target{}, true},
		{"dns:", certvalidator.Target{}, true},
		{"plain", certvalidator.Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseTarget(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error = %v", tt.spec, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTarget(%q) = %s, want %s", tt.spec, got, tt.want)
			}
		})
	}
}

func TestLoggingConfigSetDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	cfg.SetDefaults()

	want := &LoggingConfig{Level: "info", Format: "text", Output: "stderr"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("SetDefaults() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggingConfigVerbosity(t *testing.T) {
	tests := []struct {
		level   string
		want    int
		wantErr bool
	}{
		{"info", 0, false},
		{"DEBUG", 2, false},
		{"trace", 4, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := (&LoggingConfig{Level: tt.level}).Verbosity()
		if (err != nil) != tt.wantErr {
			t.Errorf("Verbosity(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Verbosity(%q) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestParseConfig(t *testing.T) {
	yamlData := `
validation:
  trust-anchors:
    - /path/to/root.pem
  intermediates:
    - /path/to/ca.pem
  evaluation-time: "2024-06-01T12:00:00Z"
  max-path-length: 5
  initial-policies: [1.2.3.4, any-policy]
  explicit-policy: true
  targets:
    - dns:www.example.com
  revocation:
    mode: hard-fail
logging:
  level: debug
batch:
  concurrency: 8
`
	cfg, err := ParseConfig([]byte(yamlData))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	want := &ValidationConfig{
		TrustAnchors:    []string{"/path/to/root.pem"},
		Intermediates:   []string{"/path/to/ca.pem"},
		EvaluationTime:  "2024-06-01T12:00:00Z",
		MaxPathLength:   intPtr(5),
		InitialPolicies: []string{"1.2.3.4", "any-policy"},
		ExplicitPolicy:  true,
		Targets:         []string{"dns:www.example.com"},
		Revocation:      &RevocationConfig{Mode: "hard-fail"},
	}
	if diff := cmp.Diff(want, cfg.Validation); diff != "" {
		t.Errorf("Validation mismatch (-want +got):\n%s", diff)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Batch.Concurrency != 8 {
		t.Errorf("Batch.Concurrency = %d, want 8", cfg.Batch.Concurrency)
	}

	vc, err := cfg.Validation.ToValidationConfig()
	if err != nil {
		t.Fatalf("ToValidationConfig() error = %v", err)
	}
	if !vc.EvaluationTime.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("EvaluationTime = %v", vc.EvaluationTime)
	}
	if diff := cmp.Diff([]string{"1.2.3.4", certvalidator.AnyPolicy}, vc.InitialPolicies); diff != "" {
		t.Errorf("InitialPolicies mismatch (-want +got):\n%s", diff)
	}
	if vc.MaxPathLength != 5 || !vc.ExplicitPolicy || vc.InhibitAnyPolicy {
		t.Errorf("policy flags = %+v", vc)
	}
	if len(vc.Targets) != 1 {
		t.Errorf("Targets = %v", vc.Targets)
	}
	checker, ok := vc.Revocation.(*revinfo.Checker)
	if !ok || checker.Mode != revinfo.ModeHardFail {
		t.Errorf("Revocation = %#v, want hard-fail checker", vc.Revocation)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(empty) error = %v", err)
	}
	if got := cfg.Validation.MaxPathLength; got == nil || *got != certvalidator.DefaultMaxPathLength {
		t.Errorf("MaxPathLength = %v", got)
	}
	if cfg.Batch.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d", cfg.Batch.Concurrency)
	}

	vc, err := cfg.Validation.ToValidationConfig()
	if err != nil {
		t.Fatalf("ToValidationConfig() error = %v", err)
	}
	if vc.Revocation != nil {
		t.Error("revocation checking enabled without configuration")
	}
	if diff := cmp.Diff([]string{certvalidator.AnyPolicy}, vc.InitialPolicies); diff != "" {
		t.Errorf("InitialPolicies mismatch (-want +got):\n%s", diff)
	}
	if vc.MaxPathLength != certvalidator.DefaultMaxPathLength {
		t.Errorf("MaxPathLength = %d, want %d", vc.MaxPathLength, certvalidator.DefaultMaxPathLength)
	}
}

func intPtr(n int) *int { return &n }

func TestParseConfigZeroPathLength(t *testing.T) {
	cfg, err := ParseConfig([]byte("validation:\n  max-path-length: 0\n"))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	vc, err := cfg.Validation.ToValidationConfig()
	if err != nil {
		t.Fatalf("ToValidationConfig() error = %v", err)
	}
	if vc.MaxPathLength != 0 {
		t.Errorf("MaxPathLength = %d, want 0", vc.MaxPathLength)
	}
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
		field   string
	}{
		{"unknown key", "validation:\n  anchors: [a.pem]\n", ErrUnexpectedField, ""},
		{"bad time", "validation:\n  evaluation-time: yesterday\n", nil, "validation.evaluation-time"},
		{"bad OID", "validation:\n  initial-policies: [policy-one]\n", ErrInvalidOID, ""},
		{"bad target", "validation:\n  targets: [fax:123]\n", ErrInvalidTarget, "targets"},
		{"bad mode", "validation:\n  revocation:\n    mode: strict\n", nil, "validation.revocation.mode"},
		{"bad level", "logging:\n  level: loud\n", ErrConfigurationError, "logging.level"},
		{"negative path length", "validation:\n  max-path-length: -1\n", ErrConfigurationError, "validation.max-path-length"},
		{"not yaml", "validation: [", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseConfig() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseConfig() error = %v, want %v", err, tt.wantErr)
			}
			if tt.field != "" {
				var cerr *ConfigError
				if !errors.As(err, &cerr) || cerr.Field != tt.field {
					t.Errorf("ParseConfig() error = %v, want ConfigError on %q", err, tt.field)
				}
			}
		})
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadBundlesAndRevocationFiles(t *testing.T) {
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Profile Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	root, _ := x509.ParseCertificate(der)
	crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
	}, root, key)
	if err != nil {
		t.Fatal(err)
	}

	rootFile := filepath.Join(dir, "root.pem")
	crlFile := filepath.Join(dir, "root.crl")
	if err := os.WriteFile(rootFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(crlFile, pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl}), 0o600); err != nil {
		t.Fatal(err)
	}

	v := &ValidationConfig{
		TrustAnchors: []string{rootFile},
		Revocation:   &RevocationConfig{Mode: "soft-fail", CRLs: []string{crlFile}},
	}
	anchors, intermediates, err := v.LoadBundles()
	if err != nil {
		t.Fatalf("LoadBundles() error = %v", err)
	}
	if anchors.Count() != 1 || intermediates.Count() != 0 {
		t.Errorf("anchors = %d, intermediates = %d", anchors.Count(), intermediates.Count())
	}

	checker, err := v.Revocation.NewChecker()
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	if crls, _ := checker.Count(); crls != 1 {
		t.Errorf("checker holds %d CRLs, want 1", crls)
	}

	if _, _, err := (&ValidationConfig{}).LoadBundles(); !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("LoadBundles() without anchors error = %v, want ErrMissingRequiredField", err)
	}
}
