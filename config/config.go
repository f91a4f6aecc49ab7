// Package config loads validation profiles from YAML and turns them into
// certvalidator inputs.
package config

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/x509path/certvalidator"
	"github.com/georgepadayatti/x509path/certvalidator/revinfo"
	"github.com/georgepadayatti/x509path/keys"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
	ErrInvalidOID           = errors.New("invalid OID")
	ErrInvalidTarget        = errors.New("invalid target")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: ErrConfigurationError}
}

func wrapConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: err.Error(), Err: err}
}

// Config is the complete profile file.
type Config struct {
	// Validation holds the path validation inputs.
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`

	// Batch controls concurrent validation of many targets.
	Batch *BatchConfig `yaml:"batch" json:"batch,omitempty"`
}

// ValidationConfig contains the validation inputs of a profile.
type ValidationConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// Intermediates contains paths to other certificate files.
	Intermediates []string `yaml:"intermediates" json:"intermediates,omitempty"`

	// Store is the path of a certificate store merged into the bundles.
	Store string `yaml:"store" json:"store,omitempty"`

	// EvaluationTime is an RFC 3339 time. Empty means now.
	EvaluationTime string `yaml:"evaluation-time" json:"evaluation_time,omitempty"`

	// MaxPathLength bounds the number of intermediate CAs. Unset means
	// certvalidator.DefaultMaxPathLength; 0 allows no intermediates.
	MaxPathLength *int `yaml:"max-path-length" json:"max_path_length,omitempty"`

	// InitialPolicies is the user-initial-policy-set.
	InitialPolicies []string `yaml:"initial-policies" json:"initial_policies,omitempty"`

	ExplicitPolicy       bool `yaml:"explicit-policy" json:"explicit_policy"`
	InhibitAnyPolicy     bool `yaml:"inhibit-any-policy" json:"inhibit_any_policy"`
	InhibitPolicyMapping bool `yaml:"inhibit-policy-mapping" json:"inhibit_policy_mapping"`

	// DisallowWeakHashes rejects MD5 and SHA-1 signatures.
	DisallowWeakHashes bool `yaml:"disallow-weak-hashes" json:"disallow_weak_hashes"`

	// Targets are acceptable AC targets such as "dns:host" or "group:uri:...".
	Targets []string `yaml:"targets" json:"targets,omitempty"`

	// Revocation configures revocation checking. Nil disables it.
	Revocation *RevocationConfig `yaml:"revocation" json:"revocation,omitempty"`
}

// RevocationConfig contains revocation configuration.
type RevocationConfig struct {
	// Mode is "soft-fail" or "hard-fail".
	Mode string `yaml:"mode" json:"mode,omitempty"`

	// CRLs contains paths to DER or PEM encoded CRL files.
	CRLs []string `yaml:"crls" json:"crls,omitempty"`

	// OCSPResponses contains paths to DER encoded OCSP responses.
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`

	// PreferCRL consults CRLs before OCSP responses.
	PreferCRL bool `yaml:"prefer-crl" json:"prefer_crl"`
}

// BatchConfig contains batch validation settings.
type BatchConfig struct {
	// Concurrency is the number of targets processed at once.
	Concurrency int `yaml:"concurrency" json:"concurrency,omitempty"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (error, info, debug, trace).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format. Only text is supported.
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// DefaultConcurrency is the batch concurrency when none is configured.
const DefaultConcurrency = 4

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate checks the level and format names.
func (c *LoggingConfig) Validate() error {
	if _, err := c.Verbosity(); err != nil {
		return err
	}
	switch c.Format {
	case "", "text":
		return nil
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown log format %q", c.Format))
	}
}

// Verbosity maps Level onto a klog verbosity.
func (c *LoggingConfig) Verbosity() (int, error) {
	switch strings.ToLower(c.Level) {
	case "", "info", "warn", "error":
		return 0, nil
	case "debug":
		return 2, nil
	case "trace":
		return 4, nil
	default:
		return 0, NewConfigError("logging.level", fmt.Sprintf("unknown log level %q", c.Level))
	}
}

// SetDefaults fills in every section that was left out.
func (c *Config) SetDefaults() {
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	if c.Validation.MaxPathLength == nil {
		n := certvalidator.DefaultMaxPathLength
		c.Validation.MaxPathLength = &n
	}
	if c.Validation.Revocation != nil && c.Validation.Revocation.Mode == "" {
		c.Validation.Revocation.Mode = revinfo.ModeSoftFail.String()
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Batch == nil {
		c.Batch = &BatchConfig{}
	}
	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = DefaultConcurrency
	}
}

// Validate checks the values of the profile without touching the file system.
func (c *Config) Validate() error {
	if v := c.Validation; v != nil {
		if v.MaxPathLength != nil && *v.MaxPathLength < 0 {
			return NewConfigError("validation.max-path-length", "must not be negative")
		}
		if _, err := v.evaluationTime(); err != nil {
			return err
		}
		if _, err := ProcessOIDs(v.InitialPolicies); err != nil {
			return err
		}
		if _, err := ParseTargets(v.Targets); err != nil {
			return err
		}
		if r := v.Revocation; r != nil {
			if _, err := revinfo.ParseMode(r.Mode); err != nil {
				return wrapConfigError("validation.revocation.mode", err)
			}
		}
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Batch != nil && c.Batch.Concurrency < 0 {
		return NewConfigError("batch.concurrency", "must not be negative")
	}
	return nil
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses, defaults and validates configuration from YAML data.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedField, err)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (v *ValidationConfig) evaluationTime() (time.Time, error) {
	if v.EvaluationTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v.EvaluationTime)
	if err != nil {
		return time.Time{}, wrapConfigError("validation.evaluation-time", err)
	}
	return t, nil
}

// LoadBundles loads the trust anchor and intermediate files.
func (v *ValidationConfig) LoadBundles() (anchors, intermediates *certvalidator.CertificateBundle, err error) {
	if len(v.TrustAnchors) == 0 && v.Store == "" {
		return nil, nil, &ConfigError{Field: "validation.trust-anchors", Message: "no trust anchors configured", Err: ErrMissingRequiredField}
	}
	anchors, err = keys.LoadBundle(v.TrustAnchors)
	if err != nil {
		return nil, nil, wrapConfigError("validation.trust-anchors", err)
	}
	intermediates, err = keys.LoadBundle(v.Intermediates)
	if err != nil {
		return nil, nil, wrapConfigError("validation.intermediates", err)
	}
	return anchors, intermediates, nil
}

// ToValidationConfig builds the certvalidator configuration. Revocation data
// files are read here.
func (v *ValidationConfig) ToValidationConfig() (*certvalidator.ValidationConfig, error) {
	verifier := certvalidator.NewDefaultVerifier()
	verifier.DisallowWeakHashes = v.DisallowWeakHashes

	out := certvalidator.NewValidationConfig(verifier)
	at, err := v.evaluationTime()
	if err != nil {
		return nil, err
	}
	if !at.IsZero() {
		out.EvaluationTime = at
	}
	if v.MaxPathLength != nil {
		out.MaxPathLength = *v.MaxPathLength
	}
	if len(v.InitialPolicies) > 0 {
		if out.InitialPolicies, err = ProcessOIDs(v.InitialPolicies); err != nil {
			return nil, err
		}
	}
	out.ExplicitPolicy = v.ExplicitPolicy
	out.InhibitAnyPolicy = v.InhibitAnyPolicy
	out.InhibitPolicyMapping = v.InhibitPolicyMapping
	if out.Targets, err = ParseTargets(v.Targets); err != nil {
		return nil, err
	}
	if v.Revocation != nil {
		checker, err := v.Revocation.NewChecker()
		if err != nil {
			return nil, err
		}
		out.Revocation = checker
	}
	return out, nil
}

// NewChecker creates a revocation checker holding the configured data.
func (c *RevocationConfig) NewChecker() (*revinfo.Checker, error) {
	mode, err := revinfo.ParseMode(c.Mode)
	if err != nil {
		return nil, wrapConfigError("validation.revocation.mode", err)
	}
	checker := revinfo.NewChecker(mode)
	checker.PreferOCSP = !c.PreferCRL
	for _, file := range c.CRLs {
		data, err := readDERFile(file)
		if err != nil {
			return nil, wrapConfigError("validation.revocation.crls", err)
		}
		if err := checker.AddCRL(data); err != nil {
			return nil, wrapConfigError("validation.revocation.crls", fmt.Errorf("%s: %w", file, err))
		}
	}
	for _, file := range c.OCSPResponses {
		data, err := readDERFile(file)
		if err != nil {
			return nil, wrapConfigError("validation.revocation.ocsp-responses", err)
		}
		checker.AddOCSPResponse(data)
	}
	return checker, nil
}

// readDERFile reads a file and strips a PEM armour if present.
func readDERFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	return data, nil
}

var namedOIDs = map[string]string{
	"any-policy": certvalidator.AnyPolicy,
	"anyPolicy":  certvalidator.AnyPolicy,
}

// ProcessOID validates and normalizes an OID string. The name "any-policy"
// stands for 2.5.29.32.0.
func ProcessOID(oidString string) (string, error) {
	if oidString == "" {
		return "", &ConfigError{Field: "oid", Message: "OID string is empty", Err: ErrInvalidOID}
	}
	if oid, ok := namedOIDs[oidString]; ok {
		return oid, nil
	}
	if OIDRegex.MatchString(oidString) {
		return oidString, nil
	}
	return "", &ConfigError{Field: "oid", Message: fmt.Sprintf("%q is not a dotted OID", oidString), Err: ErrInvalidOID}
}

// ProcessOIDs validates and normalizes a list of OID strings.
func ProcessOIDs(oidStrings []string) ([]string, error) {
	result := make([]string, 0, len(oidStrings))
	for _, oid := range oidStrings {
		processed, err := ProcessOID(oid)
		if err != nil {
			return nil, err
		}
		result = append(result, processed)
	}
	return result, nil
}

// ParseTarget parses a target of the form "kind:value", optionally
// prefixed with "group:". Kinds are dns, email, uri, ip and cn.
func ParseTarget(spec string) (certvalidator.Target, error) {
	group := false
	rest := spec
	if after, ok := strings.CutPrefix(rest, "group:"); ok {
		group, rest = true, after
	}
	kind, value, ok := strings.Cut(rest, ":")
	if !ok || value == "" {
		return certvalidator.Target{}, targetError(spec, "expected kind:value")
	}

	var name certvalidator.GeneralName
	switch strings.ToLower(kind) {
	case "dns":
		name = certvalidator.NewDNSName(value)
	case "email":
		name = certvalidator.NewEmailName(value)
	case "uri":
		name = certvalidator.NewURIName(value)
	case "ip":
		ip := net.ParseIP(value)
		if ip == nil {
			return certvalidator.Target{}, targetError(spec, "invalid IP address")
		}
		name = certvalidator.NewIPName(ip)
	case "cn":
		dn, err := certvalidator.NameFromPKIX(pkix.Name{CommonName: value})
		if err != nil {
			return certvalidator.Target{}, targetError(spec, err.Error())
		}
		name = certvalidator.NewDirectoryName(dn)
	default:
		return certvalidator.Target{}, targetError(spec, fmt.Sprintf("unknown name kind %q", kind))
	}

	if group {
		return certvalidator.NewTargetGroup(name), nil
	}
	return certvalidator.NewTargetName(name), nil
}

// ParseTargets parses every target spec.
func ParseTargets(specs []string) ([]certvalidator.Target, error) {
	var targets []certvalidator.Target
	for _, spec := range specs {
		t, err := ParseTarget(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func targetError(spec, msg string) *ConfigError {
	return &ConfigError{Field: "targets", Message: fmt.Sprintf("%q: %s", spec, msg), Err: ErrInvalidTarget}
}
