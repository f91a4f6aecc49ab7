package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/x509path/keys"
	"github.com/georgepadayatti/x509path/store"
)

func newStoreCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the certificate store",
		Long: `Manage a certificate store holding trust anchors and intermediates.

Examples:
  x509path store import --store certs.db --kind anchor root.pem
  x509path store import --store certs.db --kind intermediate bundle.pem
  x509path store list --store certs.db --kind anchor`,
	}
	cmd.AddCommand(newStoreImportCommand(opts))
	cmd.AddCommand(newStoreListCommand(opts))
	cmd.AddCommand(newStoreRemoveCommand(opts))
	return cmd
}

func openStore(opts *globalOptions) (*store.Store, error) {
	if opts.StorePath == "" {
		return nil, errors.New("--store is required")
	}
	return store.Open(opts.StorePath)
}

func newStoreImportCommand(opts *globalOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import certificates into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := store.ParseKind(kind)
			if err != nil {
				return err
			}
			certs, err := keys.LoadCertsFromPemDerFiles(args)
			if err != nil {
				return err
			}
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			added, err := s.Put(k, certs...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d certificate(s) as %s\n", added, len(certs), k)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "intermediate", "Certificate kind: anchor or intermediate")
	return cmd
}

func newStoreListCommand(opts *globalOptions) *cobra.Command {
	var (
		kind string
		pem  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := store.ParseKind(kind)
			if err != nil {
				return err
			}
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			certs, err := s.List(k)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch {
			case pem:
				_, err = w.Write(keys.EncodeCertsPEM(certs))
				return err
			case opts.JSON:
				out := make([]CertificateInfo, 0, len(certs))
				for _, c := range certs {
					out = append(out, newCertificateInfo(c))
				}
				return writeJSON(w, out)
			}
			for _, c := range certs {
				fmt.Fprintf(w, "%s  %s\n", c.FingerprintHex(), c.Subject())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "anchor", "Certificate kind: anchor or intermediate")
	cmd.Flags().BoolVar(&pem, "pem", false, "Print certificates as PEM")
	return cmd
}

func newStoreRemoveCommand(opts *globalOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "remove <sha256>...",
		Short: "Remove certificates by fingerprint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := store.ParseKind(kind)
			if err != nil {
				return err
			}
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, fp := range args {
				found, err := s.Delete(k, fp)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: not found\n", fp)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", fp)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "anchor", "Certificate kind: anchor or intermediate")
	return cmd
}
