package retrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/quality"
)

// Phase is a state of the retrain cycle
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseCheckingConditions Phase = "checking_conditions"
	PhaseSkip               Phase = "skip"
	PhaseTraining           Phase = "training"
	PhaseEvaluating         Phase = "evaluating"
	PhaseDeployed           Phase = "deployed"
	PhaseRejected           Phase = "rejected"
)

// HealthSource reports the health of the deployed model
type HealthSource interface {
	Status(ctx context.Context) (monitoring.HealthStatus, error)
}

// Registry records and promotes trained model versions
type Registry interface {
	RecordModelVersion(ctx context.Context, v *database.ModelVersion) error
	ModelsByStatus(ctx context.Context, status database.ModelStatus) ([]database.ModelVersion, error)
	Promote(ctx context.Context, id string, trafficPercent int) error
	Reject(ctx context.Context, id string) error
}

// Config controls training and promotion
type Config struct {
	Gate            GateConfig
	Algorithms      []model.Algorithm
	Options         model.Options
	MinVariance     float64
	TestFraction    float64
	Seed            uint64
	TrainingTimeout time.Duration
	DeployThreshold float64
	TrafficPercent  int
	// CVFolds > 1 cross-validates the selected algorithm
	CVFolds int
}

// RunOptions are the per-invocation switches
type RunOptions struct {
	Force  bool
	Deploy bool
	// CheckOnly evaluates the gate and stops
	CheckOnly bool
}

// Candidate is the outcome of one trainer
type Candidate struct {
	Algorithm    model.Algorithm `json:"algorithm"`
	Metrics      model.Metrics   `json:"metrics"`
	TrainMetrics model.Metrics   `json:"trainMetrics"`
	Duration     time.Duration   `json:"duration"`
	Error        string          `json:"error,omitempty"`
}

// Report describes a single run
type Report struct {
	Decision        Decision        `json:"decision"`
	Phases          []Phase         `json:"phases"`
	Candidates      []Candidate     `json:"candidates,omitempty"`
	Selected        *Candidate      `json:"selected,omitempty"`
	Samples         int             `json:"samples,omitempty"`
	Features        int             `json:"features,omitempty"`
	Version         string          `json:"version,omitempty"`
	ModelPath       string          `json:"modelPath,omitempty"`
	TrafficPercent  int             `json:"trafficPercent,omitempty"`
	QualityStats    *quality.Stats  `json:"qualityStats,omitempty"`
	CrossValidation *model.CVResult `json:"crossValidation,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
}

// Outcome is the last phase reached before returning to idle
func (r *Report) Outcome() Phase {
	for i := len(r.Phases) - 1; i >= 0; i-- {
		if r.Phases[i] != PhaseIdle {
			return r.Phases[i]
		}
	}
	return PhaseIdle
}

func (r *Report) enter(p Phase) {
	r.Phases = append(r.Phases, p)
}

// Deps are the collaborators of a Pipeline. Lease, Health and Metrics are
// optional.
type Deps struct {
	State    StateStore
	Lease    Lease
	Samples  SampleCounter
	Data     DataSource
	Health   HealthSource
	Store    *model.FileStore
	Registry Registry
	Metrics  *monitoring.Metrics
	Logger   *monitoring.Logger
}

// Pipeline runs the retrain state machine
type Pipeline struct {
	deps   Deps
	config Config
	gate   *Gate
	now    func() time.Time

	importance func(context.Context, *model.SimilarityEnsembleModel) (map[string]float64, error)
}

// NewPipeline creates a pipeline
func NewPipeline(deps Deps, config Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = monitoring.NewLogger(monitoring.ParseLevel("info"))
	}
	if len(config.Algorithms) == 0 {
		config.Algorithms = model.Algorithms()
	}
	return &Pipeline{
		deps:   deps,
		config: config,
		gate:   NewGate(config.Gate),
		now:    time.Now,

		importance: func(ctx context.Context, m *model.SimilarityEnsembleModel) (map[string]float64, error) {
			return m.FeatureImportance(ctx)
		},
	}
}

// Run executes one pass of the cycle. RetrainState only advances after a
// completed training attempt: a skip, a check, a trainer failure or a
// persistence failure leave it untouched.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (report *Report, err error) {
	report = &Report{StartedAt: p.now()}
	report.enter(PhaseIdle)
	defer func() {
		report.enter(PhaseIdle)
		report.FinishedAt = p.now()
	}()

	if p.deps.Lease != nil && !opts.CheckOnly {
		release, err := p.deps.Lease.Acquire(ctx)
		if err != nil {
			return report, err
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				p.deps.Logger.Warn("Failed to release retrain lease", "error", rerr)
			}
		}()
	}

	report.enter(PhaseCheckingConditions)
	decision, err := p.check(ctx, opts.Force)
	if err != nil {
		return report, err
	}
	report.Decision = decision

	p.deps.Logger.RetrainLogger(decision.Retrain, string(decision.Reason), decision.NewSamples,
		decision.Elapsed, string(decision.Health))
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordDecision(decision.Retrain, string(decision.Reason))
	}

	if opts.CheckOnly {
		return report, nil
	}
	if !decision.Retrain {
		report.enter(PhaseSkip)
		return report, nil
	}

	triggeredAt := p.now()
	report.enter(PhaseTraining)
	best, err := p.train(ctx, report)
	if err != nil {
		return report, err
	}

	report.enter(PhaseEvaluating)
	if err := p.evaluate(ctx, opts, best, report, triggeredAt); err != nil {
		return report, err
	}

	if err := p.deps.State.Set(ctx, NewState(triggeredAt)); err != nil {
		return report, err
	}
	return report, nil
}

// Check evaluates the gate without taking the lease or training
func (p *Pipeline) Check(ctx context.Context, force bool) (Decision, error) {
	return p.check(ctx, force)
}

func (p *Pipeline) check(ctx context.Context, force bool) (Decision, error) {
	state, err := p.deps.State.Get(ctx)
	if err != nil {
		return Decision{}, err
	}

	var since time.Time
	if state != nil {
		since = state.Time()
	}
	newSamples, err := p.deps.Samples.NewSamples(ctx, since)
	if err != nil {
		return Decision{}, err
	}

	health := monitoring.HealthHealthy
	if p.deps.Health != nil {
		status, err := p.deps.Health.Status(ctx)
		if err != nil {
			p.deps.Logger.Warn("Model health unavailable, assuming healthy", "error", err)
		} else {
			health = status
		}
	}

	return p.gate.Evaluate(p.now(), state, newSamples, health, force), nil
}

type trained struct {
	candidate  Candidate
	model      model.Model
	dataset    model.Dataset
	cv         *model.CVResult
	importance map[string]float64
}

func (p *Pipeline) train(ctx context.Context, report *Report) (*trained, error) {
	if p.config.TrainingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TrainingTimeout)
		defer cancel()
	}

	examples, err := p.deps.Data.Examples(ctx)
	if err != nil {
		return nil, err
	}

	ds, removed := model.BuildDataset(examples, p.config.MinVariance)
	if len(ds.Names) == 0 {
		return nil, apperrors.NewDataError("no feature survived selection", nil)
	}
	stats := quality.Describe(ds.Y)
	report.Samples, report.Features, report.QualityStats = len(ds.X), len(ds.Names), &stats
	p.deps.Logger.Info("Training set prepared",
		"samples", len(ds.X),
		"features", len(ds.Names),
		"removed_features", len(removed))

	trainIdx, testIdx := features.Split(len(ds.X), p.config.TestFraction, p.config.Seed)

	var best *trained
	var errs []error
	for _, alg := range p.config.Algorithms {
		trainer, err := model.NewTrainer(alg, p.config.Options)
		if err != nil {
			return nil, apperrors.NewConfigurationError("unknown training algorithm", err)
		}

		start := p.now()
		res, err := model.TrainAndEvaluate(ctx, trainer, ds, trainIdx, testIdx)
		candidate := Candidate{Algorithm: alg, Duration: p.now().Sub(start)}
		if err == nil && !res.Metrics.Finite() {
			err = fmt.Errorf("training diverged: %s", res.Metrics)
		}

		if err != nil {
			candidate.Error = err.Error()
			report.Candidates = append(report.Candidates, candidate)
			errs = append(errs, err)
			if p.deps.Metrics != nil {
				p.deps.Metrics.RecordTraining(string(alg), candidate.Duration, 0, 0, err)
			}
			if ctx.Err() != nil {
				return nil, apperrors.NewTimeoutError("training exceeded its deadline", ctx.Err())
			}
			continue
		}

		candidate.Metrics, candidate.TrainMetrics = res.Metrics, res.TrainMetrics
		report.Candidates = append(report.Candidates, candidate)
		p.deps.Logger.TrainingLogger(string(alg), len(trainIdx), len(ds.Names),
			res.Metrics.R2, res.Metrics.MAE, res.Metrics.RMSE, candidate.Duration)
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordTraining(string(alg), candidate.Duration, res.Metrics.R2, res.Metrics.MAE, nil)
		}

		if best == nil || model.Better(candidate.Metrics, best.candidate.Metrics) {
			best = &trained{candidate: candidate, model: res.Model, dataset: ds}
		}
	}

	if best == nil {
		return nil, apperrors.NewTrainingError(fmt.Sprint(p.config.Algorithms), "every trainer failed", errors.Join(errs...))
	}
	report.Selected = &best.candidate

	if k := p.config.CVFolds; k > 1 && k <= len(ds.X) {
		trainer, _ := model.NewTrainer(best.candidate.Algorithm, p.config.Options)
		cv, err := model.CrossValidate(ctx, trainer, ds, k, p.config.Seed)
		if err != nil {
			p.deps.Logger.Warn("Cross-validation failed", "algorithm", best.candidate.Algorithm, "error", err)
		} else {
			best.cv, report.CrossValidation = cv, cv
			p.deps.Logger.Info("Cross-validation finished",
				"algorithm", best.candidate.Algorithm,
				"folds", k,
				"mean_r2", cv.MeanR2,
				"std_r2", cv.StdR2)
		}
	}

	// Importance shares the training deadline
	if ensemble, ok := best.model.(*model.SimilarityEnsembleModel); ok {
		importance, err := p.importance(ctx, ensemble)
		if err != nil {
			return nil, apperrors.NewTimeoutError("feature importance exceeded the training deadline", err)
		}
		best.importance = importance
	}
	return best, nil
}

func (p *Pipeline) evaluate(ctx context.Context, opts RunOptions, best *trained, report *Report, triggeredAt time.Time) error {
	env := model.NewEnvelope(best.model, triggeredAt)
	env.Metrics = best.candidate.Metrics
	env.TrainMetrics = best.candidate.TrainMetrics
	env.Samples = report.Samples
	if report.QualityStats != nil {
		env.QualityStats = *report.QualityStats
	}
	env.Hyperparameters = hyperparameters(best.candidate.Algorithm, p.config.Options)
	env.CrossValidation = best.cv
	env.Importance = best.importance

	path, err := p.deps.Store.Save(env, best.model)
	if err != nil {
		return apperrors.NewPersistenceError("model", err)
	}
	report.Version, report.ModelPath = env.Version, path

	version := &database.ModelVersion{
		ID:        env.Version,
		Algorithm: string(env.Algorithm),
		Path:      path,
		R2:        env.Metrics.R2,
		MAE:       env.Metrics.MAE,
		RMSE:      env.Metrics.RMSE,
		Samples:   env.Samples,
		Status:    database.StatusCandidate,
		TrainedAt: env.TrainedAt,
	}
	if err := p.deps.Registry.RecordModelVersion(ctx, version); err != nil {
		return err
	}

	production, err := p.deps.Registry.ModelsByStatus(ctx, database.StatusProduction)
	if err != nil {
		return err
	}

	deploy := opts.Deploy && (len(production) == 0 || env.Metrics.R2 >= p.config.DeployThreshold)
	if !deploy {
		report.enter(PhaseRejected)
		p.recordDeployment("rejected")
		if opts.Deploy {
			return p.deps.Registry.Reject(ctx, env.Version)
		}
		return nil
	}

	traffic := p.config.TrafficPercent
	if len(production) == 0 {
		traffic = 100
	}
	if err := p.deps.Registry.Promote(ctx, env.Version, traffic); err != nil {
		return err
	}
	// Published after the commit so watchers reload the promoted registry
	if err := p.deps.Store.Publish(path); err != nil {
		return apperrors.NewPersistenceError("latest model", err)
	}
	report.TrafficPercent = traffic
	report.enter(PhaseDeployed)
	p.recordDeployment("deployed")
	p.deps.Logger.Info("Model promoted",
		"version", env.Version,
		"algorithm", env.Algorithm,
		"traffic_percent", traffic,
		"r2", env.Metrics.R2)
	return nil
}

func (p *Pipeline) recordDeployment(outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.Deployments.WithLabelValues(outcome).Inc()
	}
}

func hyperparameters(alg model.Algorithm, opts model.Options) map[string]any {
	switch alg {
	case model.AlgorithmLinear:
		return map[string]any{"learningRate": opts.Linear.LearningRate, "epochs": opts.Linear.Epochs,
			"l2": opts.Linear.L2, "normalization": string(opts.Linear.Normalization)}
	case model.AlgorithmEnsemble:
		return map[string]any{"trees": opts.Ensemble.Trees, "seed": opts.Ensemble.Seed,
			"normalization": string(opts.Ensemble.Normalization)}
	case model.AlgorithmNeural:
		return map[string]any{"epochs": opts.Neural.Epochs, "batchSize": opts.Neural.BatchSize,
			"learningRate": opts.Neural.LearningRate, "validationSplit": opts.Neural.ValidationSplit}
	}
	return nil
}
