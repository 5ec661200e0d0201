package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/sheet"
)

// job is one file imported into one entity.
type job struct {
	Entity string
	File   string
}

// report is the outcome of one job.
type report struct {
	Job     job
	Result  *core.ImportResult
	Preview *core.PreviewResponse
	Err     error
}

func (r report) ok() bool {
	if r.Err != nil {
		return false
	}
	if r.Result != nil {
		return r.Result.Succeeded()
	}
	return r.Preview != nil && len(r.Preview.MissingRequired) == 0
}

// String renders the one-line summary printed per job.
func (r report) String() string {
	status := "success"
	if !r.ok() {
		status = "failure"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <- %s: ", r.Job.Entity, r.Job.File)
	switch {
	case r.Preview != nil:
		s := r.Preview.Summary
		fmt.Fprintf(&b, "preview %d new, %d update, %d rejected, %d orphan, %s",
			s.NewRows, s.UpdateRows, s.RejectedRows, s.OrphanRows, status)
		if len(r.Preview.MissingRequired) > 0 {
			fmt.Fprintf(&b, " (missing %s)", strings.Join(r.Preview.MissingRequired, ", "))
		}
	case r.Result != nil:
		fmt.Fprintf(&b, "%d imported, %d skipped, %s",
			r.Result.RecordsAccepted, r.Result.RecordsSkipped+r.Result.RecordsRejected, status)
		if r.Err != nil {
			fmt.Fprintf(&b, " (%s)", core.FormatUserError(r.Err))
		}
	default:
		fmt.Fprintf(&b, "0 imported, 0 skipped, %s (%v)", status, r.Err)
	}
	return b.String()
}

// pairJobs zips repeated -entity and -file flags in order.
func pairJobs(entities, files []string) ([]job, error) {
	if len(entities) != len(files) {
		return nil, fmt.Errorf("got %d -entity and %d -file flags, want pairs", len(entities), len(files))
	}
	jobs := make([]job, len(entities))
	for i := range entities {
		jobs[i] = job{Entity: entities[i], File: files[i]}
	}
	return jobs, nil
}

// parseManifest reads "entity path" lines. Blank lines and # comments are skipped.
func parseManifest(r io.Reader) ([]job, error) {
	var jobs []job
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("manifest line %d: want \"entity path\", got %q", line, text)
		}
		jobs = append(jobs, job{Entity: fields[0], File: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return jobs, nil
}

// stages groups job indexes so that an entity runs after every parent entity
// that is also being imported, since parent filtering reads the parent's
// stored keys. Jobs within a stage keep their input order.
func stages(jobs []job) [][]int {
	present := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		present[j.Entity] = true
	}

	var depth func(key string, seen map[string]bool) int
	depth = func(key string, seen map[string]bool) int {
		ent, ok := core.Get(key)
		if !ok || ent.Parent == nil || !present[ent.Parent.Entity] || seen[key] {
			return 0
		}
		seen[key] = true
		return 1 + depth(ent.Parent.Entity, seen)
	}

	var out [][]int
	for i, j := range jobs {
		d := depth(j.Entity, map[string]bool{})
		for len(out) <= d {
			out = append(out, nil)
		}
		out[d] = append(out[d], i)
	}
	return out
}

// runJobs executes jobs stage by stage, at most limit at a time within a stage.
// Each job is an independent run; one failure does not stop the others.
func runJobs(ctx context.Context, svc *core.Service, jobs []job, dryRun bool, limit int, maxSize int64) []report {
	reports := make([]report, len(jobs))

	for _, stage := range stages(jobs) {
		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}
		for _, i := range stage {
			g.Go(func() error {
				reports[i] = runJob(ctx, svc, jobs[i], dryRun, maxSize)
				return nil
			})
		}
		g.Wait()
	}
	return reports
}

func runJob(ctx context.Context, svc *core.Service, j job, dryRun bool, maxSize int64) report {
	rep := report{Job: j}

	if _, ok := core.Get(j.Entity); !ok {
		rep.Err = fmt.Errorf("%w: %s", core.ErrUnknownEntity, j.Entity)
		return rep
	}

	ds, err := sheet.ReadFile(j.File, maxSize)
	if err != nil {
		rep.Err = err
		return rep
	}

	if dryRun {
		rep.Preview, rep.Err = svc.Preview(ctx, j.Entity, ds)
		return rep
	}

	rep.Result, rep.Err = svc.Import(ctx, j.Entity, ds)
	return rep
}
