// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/dashprobe/internal/workflow"
)

// Reporter collects run results and renders them when closed.
type Reporter interface {
	// Write records a single run.
	Write(report *workflow.Report) error
	// Close renders the document and closes any underlying file.
	Close() error
}

// Document is the rendered report. It carries no credential material.
type Document struct {
	Tool        string    `json:"tool" yaml:"tool"`
	Version     string    `json:"version" yaml:"version"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Passed      bool      `json:"passed" yaml:"passed"`
	Total       int       `json:"total" yaml:"total"`
	Failures    int       `json:"failures" yaml:"failures"`
	Runs        []Run     `json:"runs" yaml:"runs"`
}

// Run is one workflow run.
type Run struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Target     string    `json:"target" yaml:"target"`
	Passed     bool      `json:"passed" yaml:"passed"`
	State      string    `json:"state" yaml:"state"`
	Reached    string    `json:"reached" yaml:"reached"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
	Failure    *Failure  `json:"failure,omitempty" yaml:"failure,omitempty"`
	Steps      []Step    `json:"steps" yaml:"steps"`
}

// Failure is the classified reason a run stopped.
type Failure struct {
	Kind       string `json:"kind" yaml:"kind"`
	Transition string `json:"transition" yaml:"transition"`
	Reason     string `json:"reason" yaml:"reason"`
	Selector   string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Cause      string `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// Step is one attempted transition.
type Step struct {
	Transition string `json:"transition" yaml:"transition"`
	Status     string `json:"status" yaml:"status"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
	ElapsedMS  int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// FromWorkflow converts a workflow report.
func FromWorkflow(r *workflow.Report) Run {
	run := Run{
		RunID:      r.RunID,
		Target:     r.Target,
		Passed:     r.Passed(),
		State:      r.State.String(),
		Reached:    r.Reached.String(),
		StartedAt:  r.StartedAt.UTC(),
		DurationMS: r.Duration().Milliseconds(),
		Steps:      make([]Step, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		run.Steps = append(run.Steps, Step{
			Transition: s.Transition.String(),
			Status:     s.Status.String(),
			Attempts:   s.Attempts,
			ElapsedMS:  s.Elapsed.Milliseconds(),
		})
	}
	if f := r.Failure; f != nil {
		run.Failure = &Failure{
			Kind:       string(f.Kind),
			Transition: f.Transition,
			Reason:     f.Reason,
			Selector:   f.Selector,
		}
		if f.Err != nil {
			run.Failure.Cause = f.Err.Error()
		}
	}
	return run
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Encoder renders a Document to w.
type Encoder func(w io.Writer, doc *Document) error

func encodeJSON(w io.Writer, doc *Document) error {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func encodeYAML(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

type documentReporter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	encode Encoder
	doc    Document
	now    func() time.Time
	closed bool
}

// New creates a reporter for format ("json" or "yaml") writing to outputPath,
// or to stdout when outputPath is empty or "stdout".
func New(format, outputPath, toolVersion string) (Reporter, error) {
	var encode Encoder
	switch format {
	case "json", "":
		encode = encodeJSON
	case "yaml", "yml":
		encode = encodeYAML
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWriter(writer, encode, toolVersion), nil
}

// NewWriter is New for an arbitrary destination. The reporter takes ownership of w.
func NewWriter(w io.WriteCloser, encode Encoder, toolVersion string) Reporter {
	return &documentReporter{
		w:      w,
		encode: encode,
		doc:    Document{Tool: "dashprobe", Version: toolVersion, Passed: true, Runs: []Run{}},
		now:    time.Now,
	}
}

// Encoders accepted by NewWriter.
var (
	JSON Encoder = encodeJSON
	YAML Encoder = encodeYAML
)

func (r *documentReporter) Write(report *workflow.Report) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reporter already closed")
	}
	run := FromWorkflow(report)
	r.doc.Runs = append(r.doc.Runs, run)
	r.doc.Total++
	if !run.Passed {
		r.doc.Failures++
		r.doc.Passed = false
	}
	return nil
}

func (r *documentReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.doc.Total == 0 {
		r.doc.Passed = false
	}
	r.doc.GeneratedAt = r.now().UTC()
	encErr := r.encode(r.w, &r.doc)
	closeErr := r.w.Close()
	if encErr != nil {
		return fmt.Errorf("failed to encode report: %w", encErr)
	}
	return closeErr
}
