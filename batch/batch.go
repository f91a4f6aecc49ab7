// Package batch builds and validates certification paths for many
// independent targets concurrently.
package batch

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/georgepadayatti/x509path/certvalidator"
)

// DefaultConcurrency is used when Runner.Concurrency is not positive.
const DefaultConcurrency = 4

// ReasonNoPath labels targets for which no path could be built.
const ReasonNoPath = "no-path"

// Job is one target to build and validate.
type Job struct {
	// ID names the job in results, typically a file name.
	ID     string
	Target *certvalidator.Certificate
}

// Result is the outcome of one job.
type Result struct {
	ID string

	// Path is the path that validated, or the last path tried.
	Path       *certvalidator.CertificationPath
	Validation *certvalidator.ValidationResult

	// Candidates is the number of paths built for the target.
	Candidates int

	// Err is nil when a path validated.
	Err error

	// Reason is the validation failure reason, or ReasonNoPath.
	Reason string

	Duration time.Duration
}

// Valid reports whether a path validated.
func (r *Result) Valid() bool {
	return r.Err == nil
}

// Runner validates jobs against a shared pair of bundles and configuration.
type Runner struct {
	Anchors       *certvalidator.CertificateBundle
	Intermediates *certvalidator.CertificateBundle
	Config        *certvalidator.ValidationConfig

	// Concurrency bounds the number of jobs in flight.
	Concurrency int

	// Metrics is optional.
	Metrics *Metrics

	Logger klog.Logger
}

// Run processes jobs and returns one result per job in job order. Failed
// validations are reported in the results; the returned error is only set
// when ctx is done.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	// All jobs share one evaluation time.
	config := r.Config
	if config.EvaluationTime.IsZero() {
		config = config.WithEvaluationTime(time.Now())
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.runOne(gctx, job, config)
			r.Metrics.record(&results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	r.Logger.V(2).Info("Batch finished", "jobs", len(jobs))
	return results, nil
}

// runOne tries the built paths shortest first and stops at the first valid one.
func (r *Runner) runOne(ctx context.Context, job Job, config *certvalidator.ValidationConfig) Result {
	start := time.Now()
	res := Result{ID: job.ID}

	builder := certvalidator.NewPathBuilder(r.Anchors, r.Intermediates)
	builder.Logger = r.Logger
	paths, err := builder.AllPathsToTarget(ctx, job.Target)
	if err != nil {
		res.Err = err
		var buildErr *certvalidator.BuildError
		if errors.As(err, &buildErr) {
			res.Reason = ReasonNoPath
		}
		res.Duration = time.Since(start)
		return res
	}
	res.Candidates = len(paths)
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Len() < paths[j].Len() })

	for _, path := range paths {
		res.Path = path
		vr, err := certvalidator.ValidatePath(ctx, path, config)
		if err == nil {
			res.Validation = vr
			res.Err = nil
			res.Reason = ""
			break
		}
		res.Err = err
		if reason, ok := certvalidator.ReasonOf(err); ok {
			res.Reason = reason.String()
		} else {
			res.Reason = ""
		}
	}
	r.Logger.V(4).Info("Job finished", "id", job.ID, "valid", res.Err == nil, "reason", res.Reason)
	res.Duration = time.Since(start)
	return res
}
