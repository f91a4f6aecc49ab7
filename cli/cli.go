// Package cli provides the command-line interface for building and
// validating certification paths.
package cli

import (
	"encoding/json"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/georgepadayatti/x509path/certvalidator"
	"github.com/georgepadayatti/x509path/certvalidator/revinfo"
	"github.com/georgepadayatti/x509path/config"
	"github.com/georgepadayatti/x509path/store"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	ConfigFile    string
	Anchors       []string
	Intermediates []string
	StorePath     string
	At            string
	JSON          bool

	klogFlags *goflag.FlagSet
}

// Execute runs the CLI with the given arguments (without the program name)
// and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	klog.Flush()
	if err == nil {
		return 0
	}
	if _, ok := err.(*invalidError); !ok {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

// invalidError marks a completed run whose result was negative. The result
// has already been printed.
type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }

// NewRootCommand creates the x509path command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{klogFlags: goflag.NewFlagSet("klog", goflag.ContinueOnError)}
	klog.InitFlags(opts.klogFlags)

	root := &cobra.Command{
		Use:   "x509path",
		Short: "Build and validate X.509 certification paths and attribute certificates",
		Long: `x509path builds certification paths from a target certificate to a set of
trust anchors and validates them following RFC 5280. Attribute certificates
are validated following RFC 5755.

Trust anchors and intermediates come from files (--anchors, --intermediates),
a certificate store (--store) or a YAML profile (--config).

Examples:
  # Validate a certificate
  x509path validate server.pem --anchors root.pem --intermediates ca.pem

  # List every path to a certificate
  x509path build server.pem --anchors root.pem --intermediates bundle.pem

  # Validate an attribute certificate
  x509path validate-ac role.ac --holder user.pem --aa aa.pem --config profile.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML validation profile")
	flags.StringArrayVar(&opts.Anchors, "anchors", nil, "Trust anchor certificate file (PEM/DER), repeatable")
	flags.StringArrayVar(&opts.Intermediates, "intermediates", nil, "Intermediate certificate file (PEM/DER), repeatable")
	flags.StringVar(&opts.StorePath, "store", "", "Certificate store database")
	flags.StringVar(&opts.At, "at", "", "Evaluation time (RFC 3339), defaults to now")
	flags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	flags.AddGoFlagSet(opts.klogFlags)

	root.AddCommand(newValidateCommand(opts))
	root.AddCommand(newBuildCommand(opts))
	root.AddCommand(newValidateACCommand(opts))
	root.AddCommand(newBatchCommand(opts))
	root.AddCommand(newStoreCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x509path version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}

// environment is everything a command needs after flags and profile are merged.
type environment struct {
	Profile       *config.Config
	Anchors       *certvalidator.CertificateBundle
	Intermediates *certvalidator.CertificateBundle
	Validation    *certvalidator.ValidationConfig
	Logger        klog.Logger
}

// loadProfile reads the profile, applies flag overrides and configures klog.
func (o *globalOptions) loadProfile() (*config.Config, error) {
	var (
		profile *config.Config
		err     error
	)
	if o.ConfigFile != "" {
		profile, err = config.LoadConfig(o.ConfigFile)
	} else {
		profile, err = config.ParseConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	v := profile.Validation
	v.TrustAnchors = append(v.TrustAnchors, o.Anchors...)
	v.Intermediates = append(v.Intermediates, o.Intermediates...)
	if o.StorePath != "" {
		v.Store = o.StorePath
	}
	if o.At != "" {
		v.EvaluationTime = o.At
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := o.configureLogging(profile.Logging); err != nil {
		return nil, err
	}
	return profile, nil
}

// configureLogging applies the profile's logging section unless -v was given.
func (o *globalOptions) configureLogging(lc *config.LoggingConfig) error {
	verbosity, err := lc.Verbosity()
	if err != nil {
		return err
	}
	if f := o.klogFlags.Lookup("v"); f != nil && f.Value.String() == "0" && verbosity > 0 {
		if err := o.klogFlags.Set("v", strconv.Itoa(verbosity)); err != nil {
			return err
		}
	}
	switch lc.Output {
	case "", "stderr":
	case "stdout":
		_ = o.klogFlags.Set("logtostderr", "false")
		klog.SetOutput(os.Stdout)
	default:
		_ = o.klogFlags.Set("logtostderr", "false")
		if err := o.klogFlags.Set("log_file", lc.Output); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvironment loads the profile, the bundles and the validation config.
func (o *globalOptions) loadEnvironment() (*environment, error) {
	profile, err := o.loadProfile()
	if err != nil {
		return nil, err
	}
	anchors, intermediates, err := profile.Validation.LoadBundles()
	if err != nil {
		return nil, err
	}
	if path := profile.Validation.Store; path != "" {
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		err = s.LoadInto(anchors, intermediates)
		s.Close()
		if err != nil {
			return nil, err
		}
	}
	if anchors.Count() == 0 {
		return nil, config.NewConfigError("validation.trust-anchors", "no trust anchors loaded")
	}

	vc, err := profile.Validation.ToValidationConfig()
	if err != nil {
		return nil, err
	}
	logger := klog.Background()
	vc.Logger = logger
	if checker, ok := vc.Revocation.(*revinfo.Checker); ok {
		checker.Logger = logger
	}
	klog.V(2).InfoS("Loaded certificates", "anchors", anchors.Count(), "intermediates", intermediates.Count(), "at", vc.EvaluationTime.Format(time.RFC3339))

	return &environment{
		Profile:       profile,
		Anchors:       anchors,
		Intermediates: intermediates,
		Validation:    vc,
		Logger:        logger,
	}, nil
}

// CertificateInfo describes a certificate in command output.
type CertificateInfo struct {
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	Serial      string `json:"serial"`
	NotBefore   string `json:"not_before"`
	NotAfter    string `json:"not_after"`
	Fingerprint string `json:"sha256"`
}

func newCertificateInfo(c *certvalidator.Certificate) CertificateInfo {
	return CertificateInfo{
		Subject:     c.Subject().String(),
		Issuer:      c.Issuer().String(),
		Serial:      c.SerialNumber().String(),
		NotBefore:   c.NotBefore().UTC().Format(time.RFC3339),
		NotAfter:    c.NotAfter().UTC().Format(time.RFC3339),
		Fingerprint: c.FingerprintHex(),
	}
}

func pathInfo(p *certvalidator.CertificationPath) []CertificateInfo {
	if p == nil {
		return nil
	}
	out := make([]CertificateInfo, 0, p.Len())
	for _, c := range p.Certificates() {
		out = append(out, newCertificateInfo(c))
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func boolToStatus(b bool) string {
	if b {
		return "VALID"
	}
	return "INVALID"
}
