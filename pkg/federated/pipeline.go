package federated

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/fedlet/pkg/bundle"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/storage"
	"github.com/absmach/fedlet/pkg/tasks"
	"github.com/absmach/fedlet/pkg/trainer"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/absmach/fedlet/pkg/updater"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run carries what one task pipeline has produced so far.
type run struct {
	state   *PipelineState
	workDir string

	task      tasks.Task
	job       tasks.Job
	archive   string
	bundleDir string
	def       bundle.TaskDefinition
	bundle    *bundle.ModelBundle
	model     model.Trainable
	unlock    func()
	results   string
	summary   Summary
}

type step struct {
	action Action
	fn     func(ctx context.Context, r *run) error
}

func (m *Manager) steps() []step {
	return []step{
		{ActionGetTask, m.getTask},
		{ActionStartTask, m.startTask},
		{ActionDownloadTaskBundle, m.downloadTaskBundle},
		{ActionUnpackageTaskBundle, m.unpackageTaskBundle},
		{ActionLoadTask, m.loadTask},
		{ActionLoadModel, m.loadModel},
		{ActionTrainModel, m.trainModel},
		{ActionUploadTaskResults, m.uploadTaskResults},
	}
}

func (m *Manager) runModel(ctx context.Context, modelID string) {
	if !m.active(modelID) {
		return
	}

	m.notify(modelID, event{kind: eventActionStarted, action: ActionGetTasks})

	ctx, span := m.tracer.Start(ctx, ActionGetTasks.String(), trace.WithAttributes(attribute.String("model_id", modelID)))
	list, err := m.tasks.GetTasks(ctx, tasks.Filter{ModelID: modelID, MaxItems: m.cfg.MaxTasks})
	endSpan(span, err)
	if err != nil {
		err = fmt.Errorf("model %s: %w", modelID, err)
		m.logger.Error("failed to list tasks", slog.String("model_id", modelID), slog.Any("error", err))
		m.notify(modelID, event{kind: eventTaskFailed, action: ActionGetTasks, err: err})

		return
	}

	for _, taskID := range list.TaskIDs {
		if !m.active(modelID) {
			return
		}
		if err := tasks.ValidateTaskID(taskID); err != nil {
			m.logger.Error("task listing returned an unusable id", slog.String("model_id", modelID), slog.Any("error", err))
			m.notify(modelID, event{kind: eventTaskFailed, taskID: taskID, action: ActionGetTasks, err: err})

			continue
		}

		st, ok := m.claim(ctx, modelID, taskID)
		if !ok {
			m.logger.Debug("task already in flight", slog.String("task_id", taskID))

			continue
		}
		m.runTask(ctx, st)
		m.release(taskID)
	}
}

func (m *Manager) runTask(ctx context.Context, st *PipelineState) {
	r := &run{
		state:   st,
		workDir: filepath.Join(m.cfg.WorkDir, st.TaskID+"-"+uuid.NewString()),
	}
	defer m.cleanup(r)

	m.logger.Info("task began", slog.String("task_id", st.TaskID), slog.String("model_id", st.ModelID), slog.Int("attempt", st.Attempt))
	m.notify(st.ModelID, event{kind: eventTaskBegan, taskID: st.TaskID})

	for _, s := range m.steps() {
		if !m.active(st.ModelID) {
			m.logger.Info("pipeline stopped", slog.String("task_id", st.TaskID), slog.String("before", s.action.String()))

			return
		}
		if err := m.advance(st, s.action); err != nil {
			m.fail(r, s.action, pkgerrors.Wrap(pkgerrors.KindInternal, s.action.String(), err))

			return
		}
		m.notify(st.ModelID, event{kind: eventActionStarted, taskID: st.TaskID, action: s.action})

		actx, span := m.tracer.Start(ctx, s.action.String(), trace.WithAttributes(
			attribute.String("task_id", st.TaskID),
			attribute.String("model_id", st.ModelID),
		))
		err := s.fn(actx, r)
		endSpan(span, err)
		if err != nil {
			m.fail(r, s.action, err)

			return
		}
	}

	m.logger.Info("task completed", slog.String("task_id", st.TaskID), slog.String("job_id", r.job.JobID))
	m.record(r, ActionUploadTaskResults, nil)
	m.notify(st.ModelID, event{kind: eventTaskCompleted, taskID: st.TaskID})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *Manager) fail(r *run, action Action, err error) {
	m.logger.Error("task failed",
		slog.String("task_id", r.state.TaskID),
		slog.String("action", action.String()),
		slog.String("kind", pkgerrors.KindOf(err).String()),
		slog.Any("error", err))
	m.record(r, action, err)
	m.notify(r.state.ModelID, event{kind: eventTaskFailed, taskID: r.state.TaskID, action: action, err: err})

	if action == ActionUploadTaskResults {
		m.reportError(r.state.TaskID, r.job.JobID, err)
	}
}

// reportError tells the task service about a failed upload. It runs on its
// own goroutine and timeout; its failure is only logged.
func (m *Manager) reportError(taskID, jobID string, cause error) {
	m.reports.Add(1)
	go func() {
		defer m.reports.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ErrorReportTimeout)
		defer cancel()

		if err := m.tasks.PostErrorMessage(ctx, cause.Error(), taskID, jobID); err != nil {
			m.logger.Warn("failed to report job error",
				slog.String("task_id", taskID),
				slog.String("job_id", jobID),
				slog.Any("error", err))
		}
	}()
}

func (m *Manager) record(r *run, action Action, err error) {
	if m.journal == nil {
		return
	}

	entry := storage.Run{
		ID:         uuid.NewString(),
		TaskID:     r.state.TaskID,
		ModelID:    r.state.ModelID,
		JobID:      r.job.JobID,
		Action:     action.String(),
		Status:     storage.StatusCompleted,
		Attempt:    r.state.Attempt,
		StartedAt:  r.state.StartedAt,
		FinishedAt: time.Now(),
	}
	if err != nil {
		entry.Status = storage.StatusFailed
		entry.Error = err.Error()
	}

	if rerr := m.journal.Record(context.Background(), entry); rerr != nil {
		m.logger.Warn("failed to record run", slog.String("task_id", r.state.TaskID), slog.Any("error", rerr))
	}
}

func (m *Manager) cleanup(r *run) {
	if r.model != nil && r.model.Loaded() {
		if err := r.model.Unload(); err != nil {
			m.logger.Warn("failed to unload model", slog.String("task_id", r.state.TaskID), slog.Any("error", err))
		}
	}
	if r.unlock != nil {
		r.unlock()
	}
	if r.archive != "" {
		os.Remove(r.archive)
	}
	if err := os.RemoveAll(r.workDir); err != nil {
		m.logger.Warn("failed to remove work dir", slog.String("path", r.workDir), slog.Any("error", err))
	}
}

func (m *Manager) progress(r *run, action Action) transfer.ProgressFunc {
	return transfer.Monotonic(func(f float64) {
		m.notify(r.state.ModelID, event{kind: eventProgress, taskID: r.state.TaskID, action: action, fraction: f})
	})
}

func (m *Manager) getTask(ctx context.Context, r *run) error {
	t, err := m.tasks.GetTask(ctx, r.state.TaskID)
	if err != nil {
		return err
	}
	if t.ModelID != r.state.ModelID {
		return pkgerrors.New(pkgerrors.KindProtocol, "get task", fmt.Sprintf("task belongs to model %q", t.ModelID))
	}
	if !t.Active {
		return fmt.Errorf("%s: %w", t.TaskID, pkgerrors.ErrTaskInactive)
	}
	r.task = t

	return nil
}

func (m *Manager) startTask(ctx context.Context, r *run) error {
	job, err := m.tasks.StartTask(ctx, r.state.TaskID)
	if err != nil {
		return err
	}
	r.job = job

	m.mu.Lock()
	r.state.JobID = job.JobID
	m.mu.Unlock()

	return nil
}

func (m *Manager) downloadTaskBundle(ctx context.Context, r *run) error {
	path, err := m.tasks.DownloadBundle(ctx, r.task.Link, r.state.TaskID, m.progress(r, ActionDownloadTaskBundle))
	if err != nil {
		return err
	}
	r.archive = path

	return nil
}

func (m *Manager) unpackageTaskBundle(_ context.Context, r *run) error {
	dest := filepath.Join(r.workDir, "task")
	if err := transfer.Extract(r.archive, dest); err != nil {
		return err
	}

	dir, err := bundle.FindBundleDir(dest, bundle.TaskManifest)
	if err != nil {
		return err
	}
	r.bundleDir = dir

	return nil
}

func (m *Manager) loadTask(_ context.Context, r *run) error {
	tb, err := bundle.LoadTaskBundle(r.bundleDir, m.cfg.TaskValidator)
	if err != nil {
		return err
	}
	if !targetsModel(tb.Task.ModelIdentifier, r.state.ModelID) {
		return pkgerrors.New(pkgerrors.KindBundle, "load task",
			fmt.Sprintf("task targets model %q, not %q", tb.Task.ModelIdentifier, r.state.ModelID))
	}
	r.def = tb.Task

	return nil
}

// targetsModel accepts either a bare model id or a full repository
// identifier naming modelID.
func targetsModel(declared, modelID string) bool {
	if declared == modelID {
		return true
	}
	id, ok := identifier.Parse(declared)

	return ok && id.ModelID == modelID
}

// loadModel takes the model lock, brings the bundle up to date, checks the
// task's placeholders against it and loads it. The lock is held until the
// results have been exported.
func (m *Manager) loadModel(ctx context.Context, r *run) error {
	unlock, err := m.lockModel(ctx, r.state.ModelID)
	if err != nil {
		return err
	}
	r.unlock = unlock

	mb, err := m.models.ModelBundle(r.state.ModelID)
	if err != nil {
		return err
	}

	if m.repo != nil && !mb.Identifier.IsZero() {
		u := updater.New(mb, m.repo,
			updater.WithLogger(m.logger),
			updater.WithProgress(m.progress(r, ActionLoadModel)))
		res, err := u.Update(ctx, m.cfg.ModelValidator)
		if err != nil {
			return err
		}
		if res.Updated {
			if mb, err = bundle.LoadModelBundle(res.Path); err != nil {
				return err
			}
		}
	}

	for _, name := range r.def.PlaceholderNames() {
		if !mb.DeclaresPlaceholder(name) {
			return fmt.Errorf("%q: %w", name, pkgerrors.ErrPlaceholderMismatch)
		}
	}

	built, err := mb.NewModel()
	if err != nil {
		return err
	}
	trainable, ok := built.(model.Trainable)
	if !ok {
		return fmt.Errorf("%s: %w", mb.Backend, pkgerrors.ErrNotTrainable)
	}
	if err := trainable.Load(); err != nil {
		return err
	}
	r.bundle = mb
	r.model = trainable

	return nil
}

func (m *Manager) trainModel(ctx context.Context, r *run) error {
	provider := m.dataSourceProvider()
	if provider == nil {
		return pkgerrors.ErrNoDataSource
	}
	ds, err := provider.DataSourceForTask(r.state.TaskID, r.state.ModelID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindTraining, "data source", err)
	}
	if ds == nil {
		return pkgerrors.ErrNoDataSource
	}

	progress := m.progress(r, ActionTrainModel)
	size := int(r.def.BatchSize)
	total := int(r.def.Epochs) * ((ds.Count() + size - 1) / size)
	var done int

	started := time.Now()
	res, err := trainer.Train(ctx, r.model, ds, trainer.Params{
		Epochs:       r.def.Epochs,
		BatchSize:    r.def.BatchSize,
		Shuffle:      r.def.Shuffle,
		Placeholders: r.def.Placeholders,
	}, func(uint, int, model.Batch) {
		done++
		progress(float64(done) / float64(total))
	})
	if err != nil {
		return err
	}
	progress(1)

	r.summary = Summary{
		TaskID:     r.state.TaskID,
		JobID:      r.job.JobID,
		ModelID:    r.state.ModelID,
		BundleID:   r.bundle.ID,
		Attempt:    r.state.Attempt,
		Epochs:     res.Epochs,
		Batches:    res.Batches,
		Items:      res.Items,
		Output:     res.Output,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	archive, err := m.packageResults(r)
	if err != nil {
		return err
	}
	r.results = archive

	if err := r.model.Unload(); err != nil {
		m.logger.Warn("failed to unload model", slog.String("task_id", r.state.TaskID), slog.Any("error", err))
	}
	r.unlock()
	r.unlock = nil

	return nil
}

func (m *Manager) uploadTaskResults(ctx context.Context, r *run) error {
	return m.tasks.UploadResults(ctx, r.results, r.job.UploadTo, r.job.JobID, m.progress(r, ActionUploadTaskResults))
}
