package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"catpipe/internal/classifier"
	"catpipe/internal/config"
	"catpipe/internal/dataprocessing"
	apperrors "catpipe/internal/errors"
	"catpipe/internal/exporter"
	"catpipe/pkg/contracts/domain"
)

// Services bundles the collaborators the pipeline steps call into
type Services struct {
	Config   *config.Config
	Paths    *config.Paths
	Source   *dataprocessing.DataSource
	Analyzer *dataprocessing.FrequencyAnalyzer
	Splitter *dataprocessing.DatasetSplitter
	Renderer *exporter.Renderer
	Exporter *exporter.Exporter
	Tracer   *OperationTracer
	Logger   *slog.Logger
}

// NewServices wires the collaborators from cfg. A nil store disables
// artifact mirroring; a nil tracer records spans only.
func NewServices(cfg *config.Config, paths *config.Paths, store exporter.ArtifactStore, tracer *OperationTracer, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = NewOperationTracer(nil)
	}

	splitCfg := dataprocessing.SplitterConfig{
		Seed: cfg.Split.Seed,
		Policy: dataprocessing.EqualityPolicy{
			Strict:    cfg.Split.StrictRatios,
			Tolerance: cfg.Split.Tolerance,
		},
	}

	return &Services{
		Config:   cfg,
		Paths:    paths,
		Source:   dataprocessing.NewDataSource(logger),
		Analyzer: dataprocessing.NewFrequencyAnalyzer(logger),
		Splitter: dataprocessing.NewDatasetSplitter(logger, splitCfg),
		Renderer: exporter.NewRenderer(paths.ImagesDir, cfg.Render.Labels, logger),
		Exporter: exporter.New(paths, cfg.Export, store, logger),
		Tracer:   tracer,
		Logger:   logger,
	}
}

// Resolve fills the unset fields of req from the configuration
func (s *Services) Resolve(req domain.RunRequest) domain.RunRequest {
	if req.DataPath == "" {
		req.DataPath = s.Config.Dataset.Path
	}
	if req.Sheet == "" {
		req.Sheet = s.Config.Dataset.Sheet
	}
	if len(req.FeatureNames) == 0 {
		req.FeatureNames = s.Config.Dataset.FeatureNames
	}
	if len(req.Columns) == 0 {
		req.Columns = s.Config.Dataset.Columns
	}
	if len(req.Ratios) == 0 {
		req.Ratios = s.Config.Split.Ratios
	}
	if req.Model == "" {
		req.Model = domain.ModelKind(s.Config.Model.Kind)
	}
	if req.Depth == 0 {
		req.Depth = s.Config.Render.Depth
	}
	return req
}

// stepBase carries what every pipeline step shares
type stepBase struct {
	BaseStage
	svc     *Services
	logger  *slog.Logger
	options *StageOptions
}

func newStepBase(id, name string, deps []string, svc *Services, logger *slog.Logger, options *StageOptions) stepBase {
	if options == nil {
		options = &StageOptions{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return stepBase{
		BaseStage: NewBaseStage(id, name, deps),
		svc:       svc,
		logger:    logger.With(slog.String("step", id)),
		options:   options,
	}
}

// updateProgress updates progress through the status broadcaster
func (b *stepBase) updateProgress(operationID string, step *StepState, progress int, message string) {
	if step == nil {
		return
	}
	step.UpdateProgress(float64(progress), message)
	if b.options.EnableProgress && b.options.StatusBroadcaster != nil {
		step.mu.RLock()
		metadata := make(map[string]interface{}, len(step.Metadata))
		for k, v := range step.Metadata {
			metadata[k] = v
		}
		step.mu.RUnlock()
		b.options.StatusBroadcaster.UpdateStepWithMetadata(operationID, b.ID(), progress, message, metadata)
	}
}

// warn records a non-fatal condition on the run and in the log
func (b *stepBase) warn(ctx context.Context, state *OperationState, warning string) {
	state.AddWarning(warning)
	b.logger.WarnContext(ctx, "run_warning",
		slog.String("operation_id", state.ID),
		slog.String("warning", warning))
}

func requestOf(state *OperationState) (domain.RunRequest, error) {
	v, ok := state.GetConfig(ContextKeyRequest)
	if !ok {
		return domain.RunRequest{}, fmt.Errorf("run request missing")
	}
	req, ok := v.(domain.RunRequest)
	if !ok {
		return domain.RunRequest{}, fmt.Errorf("run request has type %T", v)
	}
	return req, nil
}

func datasetOf(state *OperationState) (*domain.Dataset, error) {
	v, ok := state.GetContext(ContextKeyDataset)
	if !ok {
		return nil, fmt.Errorf("dataset not loaded")
	}
	ds, ok := v.(*domain.Dataset)
	if !ok || ds == nil {
		return nil, fmt.Errorf("dataset has type %T", v)
	}
	return ds, nil
}

func splitOf(state *OperationState) (*domain.SplitResult, error) {
	v, ok := state.GetContext(ContextKeySplit)
	if !ok {
		return nil, fmt.Errorf("dataset not split")
	}
	split, ok := v.(*domain.SplitResult)
	if !ok || split == nil {
		return nil, fmt.Errorf("split has type %T", v)
	}
	return split, nil
}

// classifierOf returns nil when training was skipped
func classifierOf(state *OperationState) classifier.Classifier {
	v, _ := state.GetContext(ContextKeyClassifier)
	c, _ := v.(classifier.Classifier)
	return c
}

func evaluationsOf(state *OperationState) []domain.Evaluation {
	v, _ := state.GetContext(ContextKeyEvaluations)
	evals, _ := v.([]domain.Evaluation)
	return evals
}

// LoadStage reads the dataset file
type LoadStage struct {
	stepBase
}

// NewLoadStage creates the load step
func NewLoadStage(svc *Services, logger *slog.Logger, options *StageOptions) *LoadStage {
	return &LoadStage{newStepBase(StepIDLoad, StepNameLoad, nil, svc, logger, options)}
}

// Validate requires a run request
func (s *LoadStage) Validate(state *OperationState) error {
	_, err := requestOf(state)
	return err
}

// Execute loads the dataset and stores the effective request
func (s *LoadStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	req, err := requestOf(state)
	if err != nil {
		return err
	}
	req = s.svc.Resolve(req)
	state.SetConfig(ContextKeyRequest, req)

	s.updateProgress(state.ID, step, 10, "Reading "+req.DataPath)

	ds, err := s.svc.Source.Load(ctx, req.DataPath, dataprocessing.LoadOptions{
		Sheet:        req.Sheet,
		FeatureNames: req.FeatureNames,
		TargetName:   s.svc.Config.Dataset.TargetName,
	})
	if err != nil {
		return err
	}

	state.SetContext(ContextKeyDataset, ds)
	s.svc.Tracer.RecordRows(ctx, ds.Len())
	if step != nil {
		step.SetMetadata("rows", ds.Len())
		step.SetMetadata("features", ds.Features.Width())
		step.SetMetadata("fingerprint", ds.Fingerprint)
	}

	s.updateProgress(state.ID, step, 90, fmt.Sprintf("Loaded %d rows", ds.Len()))
	return nil
}

// AnalyzeStage computes value sets and frequency tables
type AnalyzeStage struct {
	stepBase
}

// NewAnalyzeStage creates the frequency analysis step
func NewAnalyzeStage(svc *Services, logger *slog.Logger, options *StageOptions) *AnalyzeStage {
	return &AnalyzeStage{newStepBase(StepIDAnalyze, StepNameAnalyze, []string{StepIDLoad}, svc, logger, options)}
}

// Execute summarizes the loaded dataset
func (s *AnalyzeStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	ds, err := datasetOf(state)
	if err != nil {
		return err
	}
	req, err := requestOf(state)
	if err != nil {
		return err
	}

	summary, err := s.svc.Analyzer.Summarize(ctx, ds, req.Columns...)
	if err != nil {
		return err
	}

	state.SetContext(ContextKeySummary, summary)
	state.AddWarning(summary.Warnings...)
	if step != nil {
		step.SetMetadata("feature_count", summary.FeatureCount)
		step.SetMetadata("target_values", summary.TargetValues.Sorted())
	}

	s.updateProgress(state.ID, step, 90, fmt.Sprintf("Tabulated %d columns", len(summary.Frequencies)))
	return nil
}

// SplitStage partitions the dataset into train, eval and test
type SplitStage struct {
	stepBase
}

// NewSplitStage creates the split step
func NewSplitStage(svc *Services, logger *slog.Logger, options *StageOptions) *SplitStage {
	return &SplitStage{newStepBase(StepIDSplit, StepNameSplit, []string{StepIDLoad}, svc, logger, options)}
}

// Validate rejects bad ratios before the step runs
func (s *SplitStage) Validate(state *OperationState) error {
	req, err := requestOf(state)
	if err != nil {
		return err
	}
	return s.svc.Splitter.ValidateRatios(req.Ratios)
}

// Execute splits the dataset with the configured seed
func (s *SplitStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	ds, err := datasetOf(state)
	if err != nil {
		return err
	}
	req, err := requestOf(state)
	if err != nil {
		return err
	}

	split, err := s.svc.Splitter.Split(ds.Features, ds.Target, req.Ratios)
	if err != nil {
		return err
	}

	state.SetContext(ContextKeySplit, split)
	state.AddWarning(split.Warnings...)
	for _, p := range split.Partitions() {
		s.svc.Tracer.RecordPartition(ctx, p.Name, p.Len())
	}
	if step != nil {
		sizes := split.Sizes()
		step.SetMetadata("train_rows", sizes[0])
		step.SetMetadata("eval_rows", sizes[1])
		step.SetMetadata("test_rows", sizes[2])
	}

	s.updateProgress(state.ID, step, 90, "Split complete")
	return nil
}

// TrainStage fits the classifier on the training partition
type TrainStage struct {
	stepBase
}

// NewTrainStage creates the training step
func NewTrainStage(svc *Services, logger *slog.Logger, options *StageOptions) *TrainStage {
	return &TrainStage{newStepBase(StepIDTrain, StepNameTrain, []string{StepIDSplit}, svc, logger, options)}
}

// Execute fits a new classifier. An empty training partition leaves the
// run without a model.
func (s *TrainStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	split, err := splitOf(state)
	if err != nil {
		return err
	}
	req, err := requestOf(state)
	if err != nil {
		return err
	}
	ds, err := datasetOf(state)
	if err != nil {
		return err
	}

	if split.Train.Len() == 0 {
		s.warn(ctx, state, apperrors.EmptyDatasetWarning("train").Error())
		return nil
	}

	c, err := classifier.New(classifier.Config{
		Kind:            req.Model,
		TargetName:      ds.TargetName,
		Trees:           s.svc.Config.Model.Trees,
		FeaturesPerTree: s.svc.Config.Model.FeaturesPerTree,
	}, s.logger)
	if err != nil {
		return err
	}

	s.updateProgress(state.ID, step, 20, fmt.Sprintf("Fitting %s on %d rows", c.Kind(), split.Train.Len()))

	if err := c.Fit(ctx, split.Train.Features, split.Train.Target); err != nil {
		return err
	}

	state.SetContext(ContextKeyClassifier, c)
	if step != nil {
		step.SetMetadata("model", string(c.Kind()))
	}

	s.updateProgress(state.ID, step, 90, "Model fitted")
	return nil
}

// EvaluateStage scores the model on every partition
type EvaluateStage struct {
	stepBase
}

// NewEvaluateStage creates the evaluation step
func NewEvaluateStage(svc *Services, logger *slog.Logger, options *StageOptions) *EvaluateStage {
	return &EvaluateStage{newStepBase(StepIDEvaluate, StepNameEvaluate, []string{StepIDTrain}, svc, logger, options)}
}

// Execute builds a confusion matrix and accuracy per partition
func (s *EvaluateStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	c := classifierOf(state)
	if c == nil {
		s.logger.InfoContext(ctx, "evaluation_skipped",
			slog.String("operation_id", state.ID),
			slog.String("reason", "no fitted model"))
		return nil
	}

	split, err := splitOf(state)
	if err != nil {
		return err
	}
	ds, err := datasetOf(state)
	if err != nil {
		return err
	}
	labels := domain.NewValueSet(ds.Target...).Sorted()

	partitions := split.Partitions()
	tracker := NewProgressTracker(state.ID, step, len(partitions), s.options.StatusBroadcaster)
	evals := make([]domain.Evaluation, 0, len(partitions))

	for _, p := range partitions {
		if p.Len() == 0 {
			s.warn(ctx, state, apperrors.EmptyDatasetWarning("evaluate "+p.Name).Error())
		}

		eval, err := classifier.Score(ctx, c, p, labels)
		if err != nil {
			return fmt.Errorf("score %s partition: %w", p.Name, err)
		}
		evals = append(evals, eval)
		s.svc.Tracer.RecordAccuracy(ctx, string(c.Kind()), p.Name, eval.Accuracy)

		s.logger.InfoContext(ctx, "partition_scored",
			slog.String("operation_id", state.ID),
			slog.String("partition", p.Name),
			slog.Int("rows", eval.Rows),
			slog.Float64("accuracy", eval.Accuracy))

		if step != nil {
			step.SetMetadata(p.Name+"_accuracy", eval.Accuracy)
		}
		if s.options.EnableProgress {
			tracker.Increment("Scored " + p.Name)
		}
	}

	state.SetContext(ContextKeyEvaluations, evals)
	return nil
}

// RenderStage draws the tree and the confusion matrices
type RenderStage struct {
	stepBase
}

// NewRenderStage creates the image rendering step
func NewRenderStage(svc *Services, logger *slog.Logger, options *StageOptions) *RenderStage {
	return &RenderStage{newStepBase(StepIDRender, StepNameRender, []string{StepIDEvaluate}, svc, logger, options)}
}

// Execute writes tree_with_depth_<n>.png and one confusion matrix per
// partition into the images directory
func (s *RenderStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	if !s.svc.Config.Render.Enabled {
		s.logger.InfoContext(ctx, "render_disabled", slog.String("operation_id", state.ID))
		return nil
	}

	c := classifierOf(state)
	if c == nil {
		s.logger.InfoContext(ctx, "render_skipped",
			slog.String("operation_id", state.ID),
			slog.String("reason", "no fitted model"))
		return nil
	}

	req, err := requestOf(state)
	if err != nil {
		return err
	}
	depth := req.Depth
	if depth <= 0 {
		depth = config.DefaultTreeDepth
	}

	var images []string

	tree, err := c.Tree(depth)
	switch {
	case errors.Is(err, classifier.ErrTreeUnavailable):
		s.warn(ctx, state, fmt.Sprintf("no tree to render for %s model", c.Kind()))
	case err != nil:
		return err
	default:
		path, err := s.svc.Renderer.RenderTree(tree, depth)
		if err != nil {
			return err
		}
		images = append(images, path)
	}
	s.updateProgress(state.ID, step, 40, "Tree rendered")

	for _, eval := range evaluationsOf(state) {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.svc.Renderer.RenderConfusionMatrix(eval.Matrix, exporter.MatrixTitle(eval.Partition))
		if err != nil {
			return err
		}
		images = append(images, path)
	}

	state.SetContext(ContextKeyImages, images)
	if step != nil {
		step.SetMetadata("images", len(images))
	}

	s.updateProgress(state.ID, step, 90, fmt.Sprintf("Rendered %d images", len(images)))
	return nil
}

// ExportStage writes the tabular artifacts and the run report
type ExportStage struct {
	stepBase
}

// NewExportStage creates the export step
func NewExportStage(svc *Services, logger *slog.Logger, options *StageOptions) *ExportStage {
	return &ExportStage{newStepBase(StepIDExport, StepNameExport, []string{StepIDAnalyze, StepIDSplit}, svc, logger, options)}
}

// Execute exports what the run produced so far
func (s *ExportStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	split, err := splitOf(state)
	if err != nil {
		return err
	}

	report := BuildReport(state)
	report.Status = domain.RunStatusCompleted

	result, err := s.svc.Exporter.Export(ctx, report, split)
	if err != nil {
		return err
	}

	state.SetContext(ContextKeyArtifacts, result.Files)
	if step != nil {
		step.SetMetadata("files", len(result.Files))
		step.SetMetadata("mirrored", len(result.Mirrored))
	}

	s.updateProgress(state.ID, step, 90, fmt.Sprintf("Exported %d files", len(result.Files)))
	return nil
}

// StageFactory creates the pipeline steps keyed by id
func StageFactory(svc *Services, logger *slog.Logger, options *StageOptions) map[string]Step {
	return map[string]Step{
		StepIDLoad:     NewLoadStage(svc, logger, options),
		StepIDAnalyze:  NewAnalyzeStage(svc, logger, options),
		StepIDSplit:    NewSplitStage(svc, logger, options),
		StepIDTrain:    NewTrainStage(svc, logger, options),
		StepIDEvaluate: NewEvaluateStage(svc, logger, options),
		StepIDRender:   NewRenderStage(svc, logger, options),
		StepIDExport:   NewExportStage(svc, logger, options),
	}
}

// PipelineOrder lists the step ids in execution order
var PipelineOrder = []string{
	StepIDLoad,
	StepIDAnalyze,
	StepIDSplit,
	StepIDTrain,
	StepIDEvaluate,
	StepIDRender,
	StepIDExport,
}

// RegisterPipeline registers every pipeline step with the manager and
// routes step progress through its broadcaster
func RegisterPipeline(m *Manager, svc *Services, logger *slog.Logger) error {
	options := &StageOptions{
		StatusBroadcaster: m.GetBroadcaster(),
		EnableProgress:    true,
	}
	steps := StageFactory(svc, logger, options)
	for _, id := range PipelineOrder {
		if err := m.RegisterStage(steps[id]); err != nil {
			return fmt.Errorf("register step %s: %w", id, err)
		}
	}
	m.SetTracer(svc.Tracer)
	return m.GetRegistry().ValidateDependencies()
}

var (
	_ Step = (*LoadStage)(nil)
	_ Step = (*AnalyzeStage)(nil)
	_ Step = (*SplitStage)(nil)
	_ Step = (*TrainStage)(nil)
	_ Step = (*EvaluateStage)(nil)
	_ Step = (*RenderStage)(nil)
	_ Step = (*ExportStage)(nil)
)
