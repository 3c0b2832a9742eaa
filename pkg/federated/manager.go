// Package federated drives federated training tasks for the models
// registered on this device: discovery, job start, bundle download and
// validation, model update, local training and result upload.
package federated

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/storage"
	"github.com/absmach/fedlet/pkg/tasks"
	"github.com/absmach/fedlet/pkg/updater"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrent      = 4
	defaultErrorReportTimeout = 30 * time.Second
	tracerName                = "github.com/absmach/fedlet/pkg/federated"
)

type Config struct {
	// WorkDir holds per-run scratch directories.
	WorkDir       string
	MaxConcurrent int
	// MaxTasks bounds each task listing; zero leaves it to the service.
	MaxTasks           int
	ErrorReportTimeout time.Duration
	// ResultsKey, when set, seals result archives with AES-256-GCM.
	ResultsKey     []byte
	TaskValidator  bundle.Predicate
	ModelValidator bundle.Predicate
}

type Deps struct {
	Tasks  TaskService
	Models ModelStore
	// Repository enables the update check at LoadModel. Nil skips it.
	Repository updater.Repository
	Journal    storage.Journal
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

type Manager struct {
	cfg      Config
	tasks    TaskService
	models   ModelStore
	repo     updater.Repository
	journal  storage.Journal
	logger   *slog.Logger
	tracer   trace.Tracer
	dispatch *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	registered map[string]struct{}
	inFlight   map[string]*PipelineState
	modelLocks map[string]chan struct{}
	provider   DataSourceProvider
	closed     bool

	passes  sync.WaitGroup
	reports sync.WaitGroup
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Tasks == nil || deps.Models == nil {
		return nil, ErrMissingDependency
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent %d: %w", cfg.MaxConcurrent, ErrInvalidConfig)
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ErrorReportTimeout <= 0 {
		cfg.ErrorReportTimeout = defaultErrorReportTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "fedlet-work")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:        cfg,
		tasks:      deps.Tasks,
		models:     deps.Models,
		repo:       deps.Repository,
		journal:    deps.Journal,
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		dispatch:   newDispatcher(deps.Logger),
		ctx:        ctx,
		cancel:     cancel,
		registered: make(map[string]struct{}),
		inFlight:   make(map[string]*PipelineState),
		modelLocks: make(map[string]chan struct{}),
	}, nil
}

// Register adds modelID to the tracked set. Registering twice is a no-op.
func (m *Manager) Register(modelID string) {
	if modelID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.registered[modelID] = struct{}{}
}

// Unregister removes modelID. Its running pipelines stop at the next action
// boundary without further notifications.
func (m *Manager) Unregister(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.registered, modelID)
}

func (m *Manager) RegisteredModelIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.registered))
	for id := range m.registered {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

// Subscribe adds o to the observers and returns a function removing it.
func (m *Manager) Subscribe(o Observer) func() {
	return m.dispatch.subscribe(o)
}

// SetDataSourceProvider replaces the provider; nil detaches it.
func (m *Manager) SetDataSourceProvider(p DataSourceProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.provider = p
}

func (m *Manager) dataSourceProvider() DataSourceProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.provider
}

// InFlight returns a snapshot of the running task pipelines.
func (m *Manager) InFlight() []PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PipelineState, 0, len(m.inFlight))
	for _, st := range m.inFlight {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b PipelineState) int {
		return cmp.Compare(a.TaskID, b.TaskID)
	})

	return out
}

// CheckIfTasksAvailable lists tasks for every registered model without
// running any pipeline. An error is returned only when no listing found
// tasks and at least one listing failed.
func (m *Manager) CheckIfTasksAvailable(ctx context.Context) (bool, error) {
	var firstErr error
	for _, id := range m.RegisteredModelIDs() {
		list, err := m.tasks.GetTasks(ctx, tasks.Filter{ModelID: id, MaxItems: m.cfg.MaxTasks})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("model %s: %w", id, err)
			}

			continue
		}
		if len(list.TaskIDs) > 0 {
			return true, nil
		}
	}

	return false, firstErr
}

// CheckForTasks runs one pass: a pipeline per registered model id, bounded
// by MaxConcurrent, skipping tasks that already have a run in flight. It
// returns once the pipelines it started have finished and their
// notifications have been delivered.
func (m *Manager) CheckForTasks(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return ErrClosed
	}
	ids := make([]string, 0, len(m.registered))
	for id := range m.registered {
		ids = append(ids, id)
	}
	m.passes.Add(1)
	m.mu.Unlock()
	defer m.passes.Done()

	slices.Sort(ids)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxConcurrent)
	for _, id := range ids {
		g.Go(func() error {
			m.runModel(ctx, id)

			return nil
		})
	}
	_ = g.Wait()

	m.dispatch.flush(ctx)

	return nil
}

// Close stops accepting passes, cancels running ones and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.passes.Wait()
	m.reports.Wait()
	m.dispatch.close()

	return nil
}

// active reports whether notifications for modelID should still be sent.
func (m *Manager) active(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	_, ok := m.registered[modelID]

	return ok
}

func (m *Manager) notify(modelID string, e event) {
	if !m.active(modelID) {
		return
	}
	m.dispatch.emit(e)
}

func (m *Manager) claim(ctx context.Context, modelID, taskID string) (*PipelineState, bool) {
	attempt := 1
	if m.journal != nil {
		n, err := m.journal.Attempts(ctx, taskID)
		if err != nil {
			m.logger.Warn("failed to count previous attempts", slog.String("task_id", taskID), slog.Any("error", err))
		}
		attempt = n + 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.inFlight[taskID]; busy {
		return nil, false
	}
	st := &PipelineState{
		TaskID:    taskID,
		ModelID:   modelID,
		Action:    ActionGetTasks,
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
	m.inFlight[taskID] = st

	return st, true
}

func (m *Manager) release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, taskID)
}

func (m *Manager) advance(st *PipelineState, to Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return st.advance(to)
}

// lockModel serializes bundle use per model id so an update never swaps a
// bundle another pipeline is training on.
func (m *Manager) lockModel(ctx context.Context, modelID string) (func(), error) {
	m.mu.Lock()
	sem, ok := m.modelLocks[modelID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.modelLocks[modelID] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return sync.OnceFunc(func() { <-sem }), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
