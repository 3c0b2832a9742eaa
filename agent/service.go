// Package agent wires the federated task manager to its clients, storage and
// messaging and runs the periodic task check.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fedlet"
	"github.com/absmach/fedlet/pkg/crypto"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/events"
	"github.com/absmach/fedlet/pkg/federated"
	"github.com/absmach/fedlet/pkg/metrics"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/model/linear"
	"github.com/absmach/fedlet/pkg/mqtt"
	"github.com/absmach/fedlet/pkg/repository"
	"github.com/absmach/fedlet/pkg/session"
	"github.com/absmach/fedlet/pkg/storage"
	"github.com/absmach/fedlet/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	drainTimeout       = 30 * time.Second
	disconnectTimeout  = 5 * time.Second
	aliveStatus        = "alive"
	healthServing      = "serving"
	healthUnavailable  = "unavailable"
	defaultRunsPerPage = 20
)

type Health struct {
	DeviceID    string `json:"device_id"`
	TaskService string `json:"task_service"`
	Registered  int    `json:"registered"`
	InFlight    int    `json:"in_flight"`
}

type ModelInfo struct {
	ModelID    string `json:"model_id"`
	BundleID   string `json:"bundle_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Version    string `json:"version,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Installed  bool   `json:"installed"`
	Registered bool   `json:"registered"`
}

type RunsPage struct {
	Offset uint64        `json:"offset"`
	Limit  uint64        `json:"limit"`
	Total  uint64        `json:"total"`
	Runs   []storage.Run `json:"runs"`
}

type Service interface {
	// Run registers the configured models and checks for tasks on every
	// tick, trigger or MQTT check command until ctx ends.
	Run(ctx context.Context) error
	// Check runs one pass and waits for it.
	Check(ctx context.Context) error
	// Trigger asks the running loop for a pass. It reports whether the
	// request was queued.
	Trigger() bool
	TasksAvailable(ctx context.Context) (bool, error)
	Health(ctx context.Context) Health
	Models() ([]ModelInfo, error)
	RegisterModel(modelID string) (ModelInfo, error)
	UnregisterModel(modelID string) error
	InFlight() []federated.PipelineState
	Runs(ctx context.Context, offset, limit uint64) (RunsPage, error)
	Close() error
}

type Option func(*service)

// WithPubSub replaces the MQTT connection built from the configuration.
func WithPubSub(ps mqtt.PubSub) Option {
	return func(s *service) {
		s.pubsub = ps
	}
}

// WithRegisterer registers metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *service) {
		s.registerer = reg
	}
}

// WithJournal replaces the journal built from the configuration.
func WithJournal(j storage.Journal) Option {
	return func(s *service) {
		s.journal = j
	}
}

type service struct {
	cfg        fedlet.Config
	logger     *slog.Logger
	manager    *federated.Manager
	tasks      *tasks.Client
	store      *BundleStore
	journal    storage.Journal
	pubsub     mqtt.PubSub
	topics     *events.TopicBuilder
	handoff    *session.Handoff
	registerer prometheus.Registerer

	trigger  chan struct{}
	running  atomic.Bool
	again    atomic.Bool
	passes   sync.WaitGroup
	passCtx  context.Context
	stopPass context.CancelFunc
	closed   atomic.Bool
}

func NewService(cfg fedlet.Config, logger *slog.Logger, opts ...Option) (_ Service, err error) {
	s := &service{
		cfg:        cfg,
		logger:     logger,
		store:      NewBundleStore(cfg.Agent.ModelsDir),
		topics:     events.NewTopicBuilder(cfg.MQTT.DomainID, cfg.MQTT.ChannelID, cfg.Agent.DeviceID),
		handoff:    session.NewHandoff(),
		registerer: prometheus.DefaultRegisterer,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.passCtx, s.stopPass = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	model.Register(linear.Backend, linear.New)

	var resultsKey []byte
	if cfg.Agent.ResultsKey != "" {
		key, err := crypto.ParseKey(cfg.Agent.ResultsKey)
		if err != nil {
			return nil, fmt.Errorf("invalid results key: %w", err)
		}
		resultsKey = key
	}

	s.tasks = tasks.NewClient(tasks.Config{
		URL:             cfg.Tasks.URL,
		DownloadsDir:    cfg.Agent.DownloadsDir,
		RequestTimeout:  fedlet.Duration(cfg.Tasks.RequestTimeout),
		TransferTimeout: fedlet.Duration(cfg.Tasks.TransferTimeout),
	}, tasks.WithHandoff(s.handoff))

	deps := federated.Deps{
		Tasks:  s.tasks,
		Models: s.store,
		Logger: logger,
	}
	if cfg.Repository.URL != "" {
		deps.Repository = repository.NewClient(repository.Config{
			URL:             cfg.Repository.URL,
			RequestTimeout:  fedlet.Duration(cfg.Repository.RequestTimeout),
			TransferTimeout: fedlet.Duration(cfg.Repository.TransferTimeout),
		})
	}

	if s.journal == nil {
		journal, err := newJournal(cfg.Agent.JournalPath)
		if err != nil {
			return nil, err
		}
		s.journal = journal
	}
	deps.Journal = s.journal

	if s.pubsub == nil && cfg.MQTT.URL != "" {
		ps, err := mqtt.NewPubSub(mqtt.Config{
			URL:         cfg.MQTT.URL,
			ID:          cfg.Agent.DeviceID,
			Username:    cfg.MQTT.ClientID,
			Password:    cfg.MQTT.ClientKey,
			QoS:         byte(cfg.MQTT.QoS),
			Timeout:     fedlet.Duration(cfg.MQTT.Timeout),
			WillTopic:   s.topics.AliveTopic(),
			WillPayload: fmt.Appendf(nil, `{"status":"offline","device_id":%q}`, cfg.Agent.DeviceID),
			CAPath:      cfg.MQTT.CAPath,
			CertPath:    cfg.MQTT.CertPath,
			KeyPath:     cfg.MQTT.KeyPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		s.pubsub = ps
	}

	manager, err := federated.NewManager(federated.Config{
		WorkDir:       cfg.Agent.WorkDir,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		MaxTasks:      cfg.Agent.MaxTasks,
		ResultsKey:    resultsKey,
	}, deps)
	if err != nil {
		return nil, err
	}
	s.manager = manager

	manager.SetDataSourceProvider(NewFileDataSourceProvider(cfg.Agent.DataDir))
	manager.Subscribe(NewLoggingObserver(logger))
	manager.Subscribe(metrics.NewObserver(s.registerer))
	if s.pubsub != nil {
		manager.Subscribe(events.NewMQTTObserver(s.pubsub, s.topics, cfg.Agent.DeviceID, logger))
	}

	for _, id := range cfg.Agent.Models {
		manager.Register(id)
	}

	return s, nil
}

// release frees the connections NewService opened before it failed.
func (s *service) release() {
	s.stopPass()
	if s.pubsub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := s.pubsub.Disconnect(ctx); err != nil {
			s.logger.Warn("failed to disconnect from MQTT broker", slog.Any("error", err))
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("failed to close journal", slog.Any("error", err))
		}
	}
}

func newJournal(path string) (storage.Journal, error) {
	if path == "" {
		return storage.NewInMemory(), nil
	}

	journal, err := storage.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}

	return journal, nil
}

func (s *service) Run(ctx context.Context) error {
	if s.pubsub != nil {
		if err := s.pubsub.Subscribe(ctx, s.topics.CheckTopic(), s.handleCheckCommand); err != nil {
			return fmt.Errorf("failed to subscribe to check topic: %w", err)
		}
		go s.startLivelinessUpdates(ctx)
	}

	var tick <-chan time.Time
	if interval := fedlet.Duration(s.cfg.Agent.CheckInterval); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("fedlet agent is running",
		slog.String("device_id", s.cfg.Agent.DeviceID),
		slog.Any("models", s.manager.RegisteredModelIDs()))

	s.startPass()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping task checks")
			s.drain()

			return nil
		case <-tick:
			s.startPass()
		case <-s.trigger:
			s.startPass()
		}
	}
}

// startPass runs a check unless one is running, in which case the running
// one repeats once it finishes.
func (s *service) startPass() {
	s.again.Store(true)
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("task check already running")

		return
	}

	s.passes.Add(1)
	go func() {
		defer s.passes.Done()

		for {
			for s.again.Swap(false) {
				if err := s.manager.CheckForTasks(s.passCtx); err != nil && !errors.Is(err, federated.ErrClosed) {
					s.logger.Error("task check failed", slog.Any("error", err))
				}
			}
			s.running.Store(false)
			if !s.again.Load() || !s.running.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

// drain lets in-flight transfers settle before the pass is cancelled.
func (s *service) drain() {
	settled := make(chan struct{})
	s.handoff.Install(sync.OnceFunc(func() { close(settled) }))
	if s.tasks.InFlightTransfers() == 0 {
		s.handoff.Done()
	}

	select {
	case <-settled:
	case <-time.After(drainTimeout):
		s.logger.Warn("transfers still in flight at shutdown", slog.Int64("transfers", s.tasks.InFlightTransfers()))
	}

	s.stopPass()
	s.passes.Wait()
}

func (s *service) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *service) Check(ctx context.Context) error {
	return s.manager.CheckForTasks(ctx)
}

func (s *service) TasksAvailable(ctx context.Context) (bool, error) {
	return s.manager.CheckIfTasksAvailable(ctx)
}

func (s *service) Health(ctx context.Context) Health {
	h := Health{
		DeviceID:    s.cfg.Agent.DeviceID,
		TaskService: healthServing,
		Registered:  len(s.manager.RegisteredModelIDs()),
		InFlight:    len(s.manager.InFlight()),
	}
	if _, err := s.tasks.GetHealth(ctx); err != nil {
		s.logger.Debug("task service health check failed", slog.Any("error", err))
		h.TaskService = healthUnavailable
	}

	return h
}

func (s *service) Models() ([]ModelInfo, error) {
	installed, err := s.store.Installed()
	if err != nil {
		return nil, err
	}
	registered := s.manager.RegisteredModelIDs()

	ids := slices.Concat(installed, registered)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	infos := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, s.describe(id, slices.Contains(registered, id)))
	}

	return infos, nil
}

func (s *service) describe(modelID string, registered bool) ModelInfo {
	info := ModelInfo{ModelID: modelID, Registered: registered}

	b, err := s.store.ModelBundle(modelID)
	if err != nil {
		return info
	}
	info.Installed = true
	info.BundleID = b.ID
	info.Name = b.Name
	info.Version = b.Version
	info.Backend = b.Backend

	return info
}

// RegisterModel tracks modelID once its bundle loads.
func (s *service) RegisterModel(modelID string) (ModelInfo, error) {
	if _, err := s.store.ModelBundle(modelID); err != nil {
		return ModelInfo{}, err
	}
	s.manager.Register(modelID)
	s.logger.Info("model registered", slog.String("model_id", modelID))

	return s.describe(modelID, true), nil
}

func (s *service) UnregisterModel(modelID string) error {
	if !slices.Contains(s.manager.RegisteredModelIDs(), modelID) {
		return fmt.Errorf("model %s: %w", modelID, pkgerrors.ErrNotFound)
	}
	s.manager.Unregister(modelID)
	s.logger.Info("model unregistered", slog.String("model_id", modelID))

	return nil
}

func (s *service) InFlight() []federated.PipelineState {
	return s.manager.InFlight()
}

func (s *service) Runs(ctx context.Context, offset, limit uint64) (RunsPage, error) {
	if limit == 0 {
		limit = defaultRunsPerPage
	}

	runs, total, err := s.journal.List(ctx, offset, limit)
	if err != nil {
		return RunsPage{}, err
	}

	return RunsPage{Offset: offset, Limit: limit, Total: total, Runs: runs}, nil
}

func (s *service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.stopPass()
	errs := []error{s.manager.Close()}
	if s.pubsub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		errs = append(errs, s.pubsub.Disconnect(ctx))
		cancel()
	}
	errs = append(errs, s.journal.Close())

	return errors.Join(errs...)
}

func (s *service) startLivelinessUpdates(ctx context.Context) {
	interval := fedlet.Duration(s.cfg.MQTT.LivelinessInterval)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping liveliness updates")

			return

		case <-ticker.C:
			payload := map[string]any{
				"status":    aliveStatus,
				"device_id": s.cfg.Agent.DeviceID,
				"models":    s.manager.RegisteredModelIDs(),
				"in_flight": len(s.manager.InFlight()),
			}
			if err := s.pubsub.Publish(ctx, s.topics.AliveTopic(), payload); err != nil {
				s.logger.Error("failed to publish liveliness message", slog.Any("error", err))
			}
		}
	}
}

// handleCheckCommand triggers a pass. Commands addressed to another device
// are ignored.
func (s *service) handleCheckCommand(_ string, msg map[string]any) error {
	if target, ok := msg["device_id"].(string); ok && target != "" && target != s.cfg.Agent.DeviceID {
		return nil
	}

	s.logger.Info("received check command")
	s.Trigger()

	return nil
}
