package federated

import (
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/fedlet/pkg/crypto"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/fxamacker/cbor/v2"
)

// MetricsFile is the name of the training summary inside a results archive.
const MetricsFile = "metrics.cbor"

// Summary describes one training run. It is stored next to the exported
// model in the uploaded archive.
type Summary struct {
	TaskID     string      `cbor:"task_id"`
	JobID      string      `cbor:"job_id"`
	ModelID    string      `cbor:"model_id"`
	BundleID   string      `cbor:"bundle_id"`
	Attempt    int         `cbor:"attempt"`
	Epochs     uint        `cbor:"epochs"`
	Batches    int         `cbor:"batches"`
	Items      int         `cbor:"items"`
	Output     model.Batch `cbor:"output,omitempty"`
	StartedAt  time.Time   `cbor:"started_at"`
	FinishedAt time.Time   `cbor:"finished_at"`
}

// ReadSummary decodes the summary stored at path.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Summary{}, pkgerrors.Wrap(pkgerrors.KindParse, "decode summary", err)
	}

	return s, nil
}

// packageResults exports the trained model and its summary and zips them.
// The archive is sealed for the job when a results key is configured.
func (m *Manager) packageResults(r *run) (string, error) {
	const op = "package results"

	dir := filepath.Join(r.workDir, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	if err := r.model.Export(dir); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindTraining, "export", err)
	}

	data, err := cbor.Marshal(r.summary)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetricsFile), data, 0o644); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}

	archive := filepath.Join(r.workDir, "results.zip")
	if err := transfer.Archive(dir, archive); err != nil {
		return "", err
	}

	if len(m.cfg.ResultsKey) > 0 {
		if err := crypto.SealFile(archive, m.cfg.ResultsKey, []byte(r.job.JobID)); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.KindInternal, "seal results", err)
		}
	}

	return archive, nil
}
