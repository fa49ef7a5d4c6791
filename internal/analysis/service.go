// Package analysis runs the meal analysis pipeline: model call, then schema
// validation. Run does it inline; Submit hands it to a detached goroutine
// whose only output is the job's entry in the status store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcp-food-log/internal/blob"
	"mcp-food-log/internal/jobs"
	"mcp-food-log/internal/llm"
	"mcp-food-log/internal/metrics"
	"mcp-food-log/internal/models"
	"mcp-food-log/internal/schema"
)

const (
	DefaultTimeout = 2 * time.Minute
	settleTimeout  = 10 * time.Second
)

// Analyzer is the model adapter as seen by the pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, media llm.Media) (llm.RawOutput, error)
	AnalyzeText(ctx context.Context, description string) (llm.RawOutput, error)
}

type Service struct {
	analyzer Analyzer
	jobs     jobs.Store
	blobs    blob.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time
	newID    func() string

	wg sync.WaitGroup
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithTimeout bounds one background analysis.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(analyzer Analyzer, store jobs.Store, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		analyzer: analyzer,
		jobs:     store,
		blobs:    blobs,
		logger:   zap.NewNop(),
		timeout:  DefaultTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// input is either media or a free-text description.
type input struct {
	media       llm.Media
	description string
}

func (in input) empty() bool {
	return in.media.Empty() && strings.TrimSpace(in.description) == ""
}

// MaxRuntime is the longest a submitted job can stay pending when each
// analysis is bounded by timeout.
func MaxRuntime(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return timeout + settleTimeout
}

// Run analyses media and waits for the validated result.
func (s *Service) Run(ctx context.Context, media llm.Media) (*models.MealAnalysis, error) {
	return s.runSync(ctx, input{media: media})
}

// RunText analyses a typed meal description.
func (s *Service) RunText(ctx context.Context, description string) (*models.MealAnalysis, error) {
	return s.runSync(ctx, input{description: description})
}

func (s *Service) runSync(ctx context.Context, in input) (*models.MealAnalysis, error) {
	start := s.now()
	result, err := s.analyze(ctx, "", in)
	s.metrics.ObserveAnalysis(metrics.ModeSync, outcome(err), s.now().Sub(start))
	return result, err
}

// Submit stores the media, records a pending job and returns its id
// before the analysis starts. The job always settles to complete or
// error, even if the analysis panics; cancelling ctx does not stop it.
func (s *Service) Submit(ctx context.Context, media llm.Media) (string, error) {
	if media.Empty() {
		s.logger.Info("analysis rejected", zap.String("stage", "decode"), zap.Error(ErrInvalidMedia))
		s.metrics.ObserveAnalysis(metrics.ModeAsync, metrics.OutcomeInvalidMedia, 0)
		return "", ErrInvalidMedia
	}

	id := s.newID()
	log := s.logger.With(zap.String("job_id", id))
	name := fmt.Sprintf("analysis/%s.%s", id, media.Extension())

	if err := s.blobs.Put(ctx, name, media.Data, media.MIMEType); err != nil {
		log.Error("failed to store media", zap.String("stage", "store_media"), zap.String("blob", name), zap.Error(err))
		return "", fmt.Errorf("store media: %w", err)
	}
	ref := &models.MediaRef{Name: name, CreatedAt: s.now().UTC()}
	if err := s.jobs.Create(ctx, id, ref); err != nil {
		log.Error("failed to create analysis job", zap.String("stage", "status_store"), zap.Error(err))
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), name); derr != nil {
			log.Warn("failed to remove orphaned media", zap.String("blob", name), zap.Error(derr))
		}
		return "", fmt.Errorf("create job: %w", err)
	}

	log.Info("analysis submitted", zap.String("kind", string(media.Kind)), zap.Int("bytes", len(media.Data)))

	s.wg.Add(1)
	go s.process(context.WithoutCancel(ctx), id, input{media: media})
	return id, nil
}

// Wait blocks until every submitted analysis has settled.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) process(ctx context.Context, id string, in input) {
	defer s.wg.Done()
	log := s.logger.With(zap.String("job_id", id))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	var (
		result *models.MealAnalysis
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panic: %v", r)
			result = nil
			log.Error("analysis panicked", zap.String("stage", "analysis"), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		s.settle(ctx, log, id, result, err)
		s.metrics.ObserveAnalysis(metrics.ModeAsync, outcome(err), s.now().Sub(start))
	}()

	result, err = s.analyze(ctx, id, in)
}

// settle writes the job's terminal state exactly once.
func (s *Service) settle(ctx context.Context, log *zap.Logger, id string, result *models.MealAnalysis, err error) {
	// the analysis deadline may have passed; the write still has to happen
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var serr error
	if err == nil && result != nil {
		serr = s.jobs.Complete(ctx, id, result)
	} else {
		if err == nil {
			err = errors.New("analysis produced no result")
		}
		serr = s.jobs.Fail(ctx, id, PublicMessage(err))
	}

	switch {
	case serr == nil:
		if err != nil {
			log.Info("analysis failed", zap.String("status", string(models.StatusError)), zap.Error(err))
		} else {
			log.Info("analysis complete", zap.Int("foods", len(result.Foods)))
		}
	case errors.Is(serr, jobs.ErrAlreadySettled):
		log.Warn("analysis job settled twice; keeping first result", zap.String("stage", "status_store"))
	default:
		log.Error("failed to record analysis outcome", zap.String("stage", "status_store"), zap.Error(serr))
	}
}

// analyze is the pipeline shared by both modes. Each failure is logged at
// its stage before it is returned.
func (s *Service) analyze(ctx context.Context, id string, in input) (*models.MealAnalysis, error) {
	log := s.logger
	if id != "" {
		log = log.With(zap.String("job_id", id))
	}

	if in.empty() {
		log.Info("analysis rejected", zap.String("stage", "decode"), zap.Error(ErrInvalidMedia))
		return nil, ErrInvalidMedia
	}

	var (
		raw llm.RawOutput
		err error
	)
	if in.description != "" {
		raw, err = s.analyzer.AnalyzeText(ctx, in.description)
	} else {
		raw, err = s.analyzer.Analyze(ctx, in.media)
	}
	if err != nil {
		var me *llm.ModelError
		if !errors.As(err, &me) {
			me = &llm.ModelError{Stage: llm.StageAnalysis, Err: err}
			err = me
		}
		log.Error("model call failed", zap.String("stage", me.Stage), zap.Error(err))
		return nil, err
	}

	result, err := schema.ParseMealAnalysis(raw)
	if err != nil {
		var se *schema.SchemaError
		if !errors.As(err, &se) {
			se = &schema.SchemaError{Errors: []schema.FieldError{{Field: "(root)", Reason: err.Error()}}}
		}
		stage := "validation"
		if se.Has("(root)") {
			stage = "parse"
		}
		log.Error("model output rejected", zap.String("stage", stage), zap.Error(se), zap.Int("raw_bytes", len(raw)))
		return nil, &ValidationError{Err: se}
	}
	return result, nil
}

// JobView is a job as returned to pollers.
type JobView struct {
	*models.AnalysisJob
	ImageURL string
}

// Get reads a job and, when it completed, a URL for its source media.
func (s *Service) Get(ctx context.Context, id string) (*JobView, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, jobs.ErrNotFound) {
			s.logger.Error("failed to read analysis job", zap.String("stage", "status_store"), zap.String("job_id", id), zap.Error(err))
		}
		return nil, err
	}
	view := &JobView{AnalysisJob: job}
	if job.Status == models.StatusComplete && job.Media != nil {
		url, err := s.blobs.URL(ctx, job.Media.Name)
		if err != nil {
			s.logger.Warn("media unavailable for completed job", zap.String("job_id", id), zap.String("blob", job.Media.Name), zap.Error(err))
		}
		view.ImageURL = url
	}
	return view, nil
}

// LastSweep exposes the retention sweep's last recorded run.
func (s *Service) LastSweep(ctx context.Context) (*models.SweepStats, error) {
	return s.jobs.LastSweep(ctx)
}
