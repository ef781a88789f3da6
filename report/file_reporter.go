package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"threatgate/core"
	"threatgate/util"
)

// Reporter publishes the threats of one run.
type Reporter interface {
	Publish(header Header, threats []core.Threat) error
}

// FileReporter writes one report file per model into a directory.
type FileReporter struct {
	dir    string
	format Format
	logger *zap.SugaredLogger

	mu sync.Mutex
	// claimed maps a report file name to the run that wrote it
	claimed map[string]string
}

// NewFileReporter creates the output directory if needed.
func NewFileReporter(dir string, format Format, logger *zap.SugaredLogger) (*FileReporter, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if dir == "" {
		dir = "."
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, &core.ConfigurationError{Field: "outFormat", Reason: "unsupported report format", Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.ReportWriteError{Path: dir, Err: err}
	}
	return &FileReporter{dir: dir, format: format, logger: logger, claimed: make(map[string]string)}, nil
}

// Path returns where the report for header is written. When an earlier run
// published through this reporter already owns the model's file name, the
// run id is added to the name so neither report is lost.
func (r *FileReporter) Path(header Header) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filepath.Join(r.dir, r.fileName(header))
}

func (r *FileReporter) fileName(header Header) string {
	name := FileName(header.ModelName, r.format)
	if owner, ok := r.claimed[name]; !ok || owner == header.RunID {
		return name
	}
	runID := strings.ReplaceAll(header.RunID, "-", "")
	if len(runID) > 12 {
		runID = runID[:12]
	}
	return fmt.Sprintf("%s-%s-threats.%s", Slug(header.ModelName), runID, r.format.Extension())
}

// Publish encodes the report and replaces any previous report of the same
// run, or of an earlier invocation for the same model. The file is written
// to a temporary name and renamed into place.
func (r *FileReporter) Publish(header Header, threats []core.Threat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.fileName(header)
	path := filepath.Join(r.dir, name)
	fail := func(err error) error {
		return &core.ReportWriteError{Path: path, Err: err}
	}

	target, err := util.ValidateFilePath(filepath.Base(path), r.dir, true)
	if err != nil {
		return fail(err)
	}

	data, err := Encode(r.format, NewDocument(header, threats))
	if err != nil {
		return fail(fmt.Errorf("failed to encode %s report: %w", r.format, err))
	}

	tmp, err := os.CreateTemp(r.dir, ".threatgate-*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fail(err)
	}
	r.claimed[name] = header.RunID

	r.logger.Infow("Report written",
		"path", target,
		"format", r.format,
		"threats", len(threats),
		"run_id", header.RunID)
	return nil
}
