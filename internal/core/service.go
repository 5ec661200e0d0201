package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultImportTimeout is the maximum duration of one import run.
const DefaultImportTimeout = 10 * time.Minute

// ErrImportCancelled is the cancellation cause for imports stopped via CancelImport.
var ErrImportCancelled = errors.New("import cancelled by user")

// ServiceConfig tunes the Service. Zero values select defaults.
type ServiceConfig struct {
	ChunkSize     int
	Resume        bool
	ImportTimeout time.Duration
	CommitTimeout time.Duration
	MaxConcurrent int
	MaxWait       time.Duration
	Logger        *slog.Logger
}

// Service is the entry point for imports: synchronous, asynchronous with
// progress subscriptions, and read-only previews.
type Service struct {
	store   Store
	limiter *ImportLimiter
	cfg     ServiceConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID       string
	Entity   string
	FileName string
	Cancel   context.CancelCauseFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  Progress
	result    *ImportResult
	listeners []chan Progress
}

// NewService creates a Service committing to store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   store,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		cfg:     cfg,
		logger:  logger,
		imports: make(map[string]*activeImport),
	}
}

// Entities returns all registered entities.
func (s *Service) Entities() []*Entity {
	return All()
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

func lookupEntity(key string) (*Entity, error) {
	ent, ok := Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return ent, nil
}

// Preview analyzes a dataset without writing anything.
func (s *Service) Preview(ctx context.Context, entityKey string, ds *Dataset) (*PreviewResponse, error) {
	ent, err := lookupEntity(entityKey)
	if err != nil {
		return nil, err
	}
	return AnalyzeImport(ctx, s.store, ent, ds)
}

// Import runs an import to completion on the caller's goroutine.
// Returns ErrTooManyImports if no import slot frees up in time.
func (s *Service) Import(ctx context.Context, entityKey string, ds *Dataset) (*ImportResult, error) {
	ent, err := lookupEntity(entityKey)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ImportTimeout)
	defer cancel()

	return s.run(ctx, ent, ds, uuid.New().String(), nil)
}

// StartImport begins an asynchronous import and returns its ID immediately.
// Use SubscribeProgress to follow it and GetImportResult to collect the outcome.
//
// Returns ErrTooManyImports if the concurrent import limit is reached and
// no slot becomes available within the wait period.
func (s *Service) StartImport(ctx context.Context, entityKey string, ds *Dataset) (string, error) {
	ent, err := lookupEntity(entityKey)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()

	// Detached from the request; the caller's metadata is kept for history.
	base, cancelTimeout := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ImportTimeout)
	runCtx, cancel := context.WithCancelCause(base)

	imp := &activeImport{
		ID:       importID,
		Entity:   ent.Key,
		FileName: ds.Name,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: Progress{
			ImportID: importID,
			Entity:   ent.Key,
			FileName: ds.Name,
			Phase:    PhaseStarting,
		},
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancelTimeout()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in import",
					"import_id", importID,
					"entity", ent.Key,
					"panic", r,
				)
				imp.finish(&ImportResult{
					ImportID:   importID,
					Entity:     ent.Key,
					FileName:   ds.Name,
					FirstError: fmt.Sprintf("internal error: %v", r),
				}, PhaseFailed)
				s.cleanup(importID, 5*time.Minute)
			}
		}()

		res, err := s.run(runCtx, ent, ds, importID, imp.update)
		phase := PhaseComplete
		switch {
		case res.Cancelled:
			phase = PhaseCancelled
		case err != nil:
			phase = PhaseFailed
		}
		imp.finish(res, phase)
		s.cleanup(importID, 5*time.Minute)
	}()

	return importID, nil
}

// run executes the pipeline and records the outcome in import history.
func (s *Service) run(ctx context.Context, ent *Entity, ds *Dataset, importID string, onProgress ProgressFunc) (*ImportResult, error) {
	logger := s.logger.With("import_id", importID)
	started := time.Now()
	logger.Info("import started", "entity", ent.Key, "file", ds.Name, "rows", len(ds.Rows), "fingerprint", ds.Fingerprint)

	res, err := Import(ctx, s.store, ent, ds, ImportOptions{
		ImportID:      importID,
		ChunkSize:     s.cfg.ChunkSize,
		Resume:        s.cfg.Resume,
		CommitTimeout: s.cfg.CommitTimeout,
		OnProgress:    onProgress,
		Logger:        logger,
	})

	s.recordRun(ctx, ImportRun{
		ID:         importID,
		Entity:     ent.Key,
		FileName:   ds.Name,
		ClientIP:   ClientIPFromContext(ctx),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Result:     *res,
	})
	return res, err
}

func (s *Service) recordRun(ctx context.Context, run ImportRun) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.RecordRun(ctx, run); err != nil {
		s.logger.Warn("record import history", "import_id", run.ID, "error", err)
	}
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the import completes.
func (s *Service) SubscribeProgress(importID string) (<-chan Progress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()
	ch <- imp.progress
	if imp.result != nil {
		close(ch)
		return ch, nil
	}
	imp.listeners = append(imp.listeners, ch)
	return ch, nil
}

// CancelImport stops an in-progress import before its next batch.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookup(importID)
	if err != nil {
		return err
	}
	imp.Cancel(ErrImportCancelled)
	return nil
}

// GetImportResult returns the result of an import, waiting for it to finish
// unless ctx ends first.
func (s *Service) GetImportResult(ctx context.Context, importID string) (*ImportResult, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, nil
}

// GetImportProgress returns the latest progress without blocking.
func (s *Service) GetImportProgress(importID string) (Progress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return Progress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// WaitForImports blocks until every running import has finished or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) lookup(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// cleanup removes the import from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// update stores the latest progress and fans it out to listeners.
func (imp *activeImport) update(p Progress) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.progress = p
	for _, ch := range imp.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish publishes the final state, closes listeners, and releases waiters.
func (imp *activeImport) finish(res *ImportResult, phase ImportPhase) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	if imp.result != nil {
		return
	}
	imp.result = res
	imp.progress.Phase = phase
	imp.progress.Error = res.FirstError
	imp.progress.RecordsCommitted = res.RecordsAccepted

	for _, ch := range imp.listeners {
		sendLatest(ch, imp.progress)
		close(ch)
	}
	imp.listeners = nil
	close(imp.Done)
}

// sendLatest delivers p without blocking, evicting the oldest buffered event
// when the listener has fallen behind. Only the import goroutine sends, so the
// second send always finds room.
func sendLatest(ch chan Progress, p Progress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
