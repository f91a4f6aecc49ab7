package cli

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/x509path/batch"
	"github.com/georgepadayatti/x509path/keys"
)

// BatchOutput is the output of the batch command.
type BatchOutput struct {
	Results []*ValidateResult  `json:"results"`
	Valid   int                `json:"valid"`
	Invalid int                `json:"invalid"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func newBatchCommand(opts *globalOptions) *cobra.Command {
	var (
		concurrency int
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "batch <certificate>...",
		Short: "Validate many certificates concurrently",
		Long: `Build and validate paths for every certificate given, several at a time.
Each file may hold several certificates; each one is a separate target.

The exit code is 0 only when every target validates.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnvironment()
			if err != nil {
				return err
			}
			var jobs []batch.Job
			for _, file := range args {
				certs, err := keys.LoadCertsFromPemDer(file)
				if err != nil {
					return err
				}
				for i, c := range certs {
					id := file
					if len(certs) > 1 {
						id = fmt.Sprintf("%s#%d", file, i)
					}
					jobs = append(jobs, batch.Job{ID: id, Target: c})
				}
			}

			if !cmd.Flags().Changed("concurrency") {
				concurrency = env.Profile.Batch.Concurrency
			}
			reg := prometheus.NewRegistry()
			runner := &batch.Runner{
				Anchors:       env.Anchors,
				Intermediates: env.Intermediates,
				Config:        env.Validation,
				Concurrency:   concurrency,
				Metrics:       batch.NewMetrics(reg),
				Logger:        env.Logger,
			}
			results, err := runner.Run(cmd.Context(), jobs)
			if err != nil {
				return err
			}

			out := &BatchOutput{}
			for i := range results {
				r := newValidateResult(jobs[i].Target, &results[i])
				out.Results = append(out.Results, r)
				if results[i].Valid() {
					out.Valid++
				} else {
					out.Invalid++
				}
			}
			if showMetrics {
				if out.Metrics, err = gatherCounters(reg); err != nil {
					return err
				}
			}

			if opts.JSON {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for i, r := range out.Results {
					line := fmt.Sprintf("%-8s %s", r.Status, jobs[i].ID)
					if r.Reason != "" {
						line += " (" + r.Reason + ")"
					}
					fmt.Fprintln(w, line)
				}
				fmt.Fprintf(w, "\n%d valid, %d invalid\n", out.Valid, out.Invalid)
				names := make([]string, 0, len(out.Metrics))
				for k := range out.Metrics {
					names = append(names, k)
				}
				sort.Strings(names)
				for _, k := range names {
					fmt.Fprintf(w, "%s %g\n", k, out.Metrics[k])
				}
			}
			if out.Invalid > 0 {
				return &invalidError{msg: fmt.Sprintf("%d target(s) did not validate", out.Invalid)}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", batch.DefaultConcurrency, "Number of targets validated at once")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print the collected counters")
	return cmd
}

// gatherCounters flattens the counter series of reg into name{labels} keys.
func gatherCounters(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			key := mf.GetName() + "{"
			for i, lp := range m.GetLabel() {
				if i > 0 {
					key += ","
				}
				key += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			key += "}"
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
