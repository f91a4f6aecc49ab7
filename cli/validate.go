package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/x509path/batch"
	"github.com/georgepadayatti/x509path/certvalidator"
	"github.com/georgepadayatti/x509path/config"
	"github.com/georgepadayatti/x509path/keys"
)

// ValidateResult is the output of the validate command.
type ValidateResult struct {
	Target        CertificateInfo   `json:"target"`
	Status        string            `json:"status"`
	Path          []CertificateInfo `json:"path,omitempty"`
	Candidates    int               `json:"candidate_paths"`
	ValidPolicies []string          `json:"valid_policies,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <certificate>",
		Short: "Build paths to a certificate and validate them",
		Long: `Build every certification path from the trust anchors to the certificate and
validate them, shortest first, until one is valid.

The exit code is 0 when a path is valid and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnvironment()
			if err != nil {
				return err
			}
			target, err := keys.LoadCertFromPemDer(args[0])
			if err != nil {
				return err
			}
			result, err := validateTarget(cmd.Context(), env, target)
			if err != nil {
				return err
			}
			if opts.JSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printValidateResult(cmd.OutOrStdout(), result)
			}
			if result.Status != "VALID" {
				return &invalidError{msg: "certificate did not validate"}
			}
			return nil
		},
	}
}

// validateTarget runs a one-job batch so the CLI and batch share a code path.
func validateTarget(ctx context.Context, env *environment, target *certvalidator.Certificate) (*ValidateResult, error) {
	runner := &batch.Runner{
		Anchors:       env.Anchors,
		Intermediates: env.Intermediates,
		Config:        env.Validation,
		Concurrency:   1,
		Logger:        env.Logger,
	}
	results, err := runner.Run(ctx, []batch.Job{{ID: "target", Target: target}})
	if err != nil {
		return nil, err
	}
	return newValidateResult(target, &results[0]), nil
}

func newValidateResult(target *certvalidator.Certificate, r *batch.Result) *ValidateResult {
	out := &ValidateResult{
		Target:     newCertificateInfo(target),
		Status:     boolToStatus(r.Valid()),
		Path:       pathInfo(r.Path),
		Candidates: r.Candidates,
		Reason:     r.Reason,
	}
	if r.Validation != nil {
		out.ValidPolicies = r.Validation.ValidPolicies
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func printValidateResult(w io.Writer, r *ValidateResult) {
	fmt.Fprintf(w, "Target: %s\n", r.Target.Subject)
	fmt.Fprintf(w, "  Status: %s\n", r.Status)
	fmt.Fprintf(w, "  Candidate paths: %d\n", r.Candidates)
	if len(r.Path) > 0 {
		fmt.Fprintf(w, "  Path:\n")
		for i, c := range r.Path {
			fmt.Fprintf(w, "    [%d] %s\n", i, c.Subject)
		}
	}
	if len(r.ValidPolicies) > 0 {
		fmt.Fprintf(w, "  Valid policies: %v\n", r.ValidPolicies)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}
}

func newBuildCommand(opts *globalOptions) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "build <certificate>",
		Short: "List every certification path to a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnvironment()
			if err != nil {
				return err
			}
			target, err := keys.LoadCertFromPemDer(args[0])
			if err != nil {
				return err
			}
			builder := certvalidator.NewPathBuilder(env.Anchors, env.Intermediates)
			builder.MaxDepth = maxDepth
			builder.Logger = env.Logger
			paths, err := builder.AllPathsToTarget(cmd.Context(), target)
			if err != nil {
				return err
			}

			if opts.JSON {
				out := make([][]CertificateInfo, 0, len(paths))
				for _, p := range paths {
					out = append(out, pathInfo(p))
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Found %d path(s)\n", len(paths))
			for i, p := range paths {
				fmt.Fprintf(w, "  #%d (%d certificates): %s\n", i+1, p.Len(), p)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", certvalidator.DefaultMaxBuildDepth, "Maximum number of certificates in a path")
	return cmd
}

// ACResult is the output of the validate-ac command.
type ACResult struct {
	Serial     string            `json:"serial"`
	Status     string            `json:"status"`
	HolderPath []CertificateInfo `json:"holder_path,omitempty"`
	IssuerPath []CertificateInfo `json:"issuer_path,omitempty"`
	Attributes []string          `json:"attributes,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func newValidateACCommand(opts *globalOptions) *cobra.Command {
	var (
		holderFile, aaFile string
		targets            []string
	)
	cmd := &cobra.Command{
		Use:   "validate-ac <attribute-certificate>",
		Short: "Validate an attribute certificate against its holder and issuer",
		Long: `Validate an attribute certificate following RFC 5755. The shortest paths to
the holder certificate and to the attribute authority certificate are built
from the configured trust anchors and intermediates.

Acceptable targets come from the profile (validation.targets) or --target,
for example --target dns:www.example.com or --target group:uri:urn:admins.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnvironment()
			if err != nil {
				return err
			}
			extra, err := config.ParseTargets(targets)
			if err != nil {
				return err
			}
			env.Validation.Targets = append(env.Validation.Targets, extra...)
			ac, err := keys.LoadAttrCertFromPemDer(args[0])
			if err != nil {
				return err
			}
			holder, err := keys.LoadCertFromPemDer(holderFile)
			if err != nil {
				return err
			}
			aa, err := keys.LoadCertFromPemDer(aaFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			holderPath, err := certvalidator.BuildShortestPath(ctx, holder, env.Anchors, env.Intermediates)
			if err != nil {
				return fmt.Errorf("holder: %w", err)
			}
			issuerPath, err := certvalidator.BuildShortestPath(ctx, aa, env.Anchors, env.Intermediates)
			if err != nil {
				return fmt.Errorf("attribute authority: %w", err)
			}

			out := &ACResult{
				Serial:     ac.SerialNumber.String(),
				HolderPath: pathInfo(holderPath),
				IssuerPath: pathInfo(issuerPath),
			}
			for _, attr := range ac.Attributes {
				out.Attributes = append(out.Attributes, attr.Type.String())
			}
			_, verr := certvalidator.ValidateAttributeCertificate(ctx, ac, holderPath, issuerPath, env.Validation)
			out.Status = boolToStatus(verr == nil)
			if verr != nil {
				out.Error = verr.Error()
				if reason, ok := certvalidator.ACReasonOf(verr); ok {
					out.Reason = reason.String()
				}
			}

			if opts.JSON {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Attribute certificate %s\n", out.Serial)
				fmt.Fprintf(w, "  Status: %s\n", out.Status)
				fmt.Fprintf(w, "  Holder: %s\n", holderPath)
				fmt.Fprintf(w, "  Issuer: %s\n", issuerPath)
				for _, a := range out.Attributes {
					fmt.Fprintf(w, "  Attribute: %s\n", a)
				}
				if out.Error != "" {
					fmt.Fprintf(w, "  Error: %s\n", out.Error)
				}
			}
			if verr != nil {
				return &invalidError{msg: "attribute certificate did not validate"}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&holderFile, "holder", "", "Holder certificate (PEM/DER)")
	cmd.Flags().StringVar(&aaFile, "aa", "", "Attribute authority certificate (PEM/DER)")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "Acceptable target such as dns:host or group:uri:value, repeatable")
	_ = cmd.MarkFlagRequired("holder")
	_ = cmd.MarkFlagRequired("aa")
	return cmd
}
