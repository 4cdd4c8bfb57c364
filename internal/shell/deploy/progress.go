package deploy

import (
	"fmt"
	"io"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
	"github.com/skylift/skylift/internal/core/pipeline"
)

// =============================================================================
// Progress Reporting
// =============================================================================

// Reporter receives one line per executed stage.
type Reporter interface {
	StageLine(res pipeline.Result)
}

type nopReporter struct{}

func (nopReporter) StageLine(pipeline.Result) {}

// WriterReporter prints stage progress to a writer, one line per stage.
type WriterReporter struct {
	w io.Writer
}

func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) StageLine(res pipeline.Result) {
	switch res.Status {
	case pipeline.StatusSuccess:
		if res.Detail != "" {
			fmt.Fprintf(r.w, "  ok   %-18s %s\n", res.Stage, res.Detail)
		} else {
			fmt.Fprintf(r.w, "  ok   %s\n", res.Stage)
		}
	case pipeline.StatusSkipped:
		fmt.Fprintf(r.w, "  skip %-18s %s\n", res.Stage, res.Detail)
	case pipeline.StatusFailed:
		fmt.Fprintf(r.w, "  FAIL %-18s %v\n", res.Stage, res.Err)
	}
}

// =============================================================================
// Run Summary
// =============================================================================

// WriteSummary renders the end-of-run summary: the resource identifiers
// on success, the failing stage and fault on failure.
func WriteSummary(w io.Writer, st *domain.DeploymentState, run *pipeline.Run, warning string) {
	if run.Terminal() == pipeline.StageFailed {
		stage, err := run.FailedStage()
		fmt.Fprintf(w, "\ndeployment FAILED at %s\n", stage)
		if f, ok := err.(*fault.Fault); ok {
			fmt.Fprintf(w, "  fault:    %s\n", f.Kind)
			fmt.Fprintf(w, "  resource: %s\n", f.Resource)
		}
		fmt.Fprintf(w, "  error:    %v\n", err)
		fmt.Fprintf(w, "\nearlier stages were applied and remain in place; fix the cause and re-run.\n")
		return
	}

	fmt.Fprintf(w, "\ndeployment DONE\n")
	if st.Compute.ARN != "" {
		fmt.Fprintf(w, "  function:   %s\n", st.Compute.ARN)
	}
	for _, l := range st.Function.Layers {
		fmt.Fprintf(w, "  layer:      %s\n", l.VersionARN)
	}
	if st.APIID != "" {
		fmt.Fprintf(w, "  api:        %s\n", st.APIID)
	}
	if st.InvokeURL != "" {
		fmt.Fprintf(w, "  invoke url: %s\n", st.InvokeURL)
	}
	if st.Policy.PlanID != "" {
		fmt.Fprintf(w, "  usage plan: %s\n", st.Policy.PlanID)
	}
	if st.Policy.KeyValue != "" {
		fmt.Fprintf(w, "  api key:    %s\n", st.Policy.KeyValue)
	}
	if st.Bound != nil {
		fmt.Fprintf(w, "  domain:     %s -> CNAME %s\n", st.Bound.DomainName, st.Bound.TargetDomain)
	}
	if warning != "" {
		fmt.Fprintf(w, "\n  WARNING: %s\n", warning)
	}
}
