// Standard attribute keys for estimation operations. Keys use a hierarchical
// naming convention (estimator.name, data.samples) so that structured logs
// can be filtered per component.

package log

// Estimator and operation context.
const (
	// EstimatorKey identifies the estimator type.
	// Examples: "LinearDML", "ORF", "XLearner", "SieveTSLS"
	EstimatorKey = "estimator.name"

	// OperationKey names the operation being performed.
	// Standard values: "fit", "effect", "effect_interval", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies the package performing the operation.
	// Examples: "dml", "orthoforest", "inference", "crossfit"
	ComponentKey = "ml.component"

	// NuisanceKey names the nuisance model being fitted.
	// Examples: "model_y", "model_t", "propensity"
	NuisanceKey = "ml.nuisance"

	// WarningKey carries a structured warning emitted through pkg/errors.
	WarningKey = "warning"
)

// Data shape.
const (
	// SamplesKey is the number of rows in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of heterogeneity features (columns of X).
	FeaturesKey = "data.features"

	// TreatmentsKey is the treatment dimension after encoding.
	TreatmentsKey = "data.treatments"

	// ControlsKey is the number of control/confounder columns (W).
	ControlsKey = "data.controls"

	// InstrumentsKey is the number of instrument columns (Z).
	InstrumentsKey = "data.instruments"
)

// Estimation internals.
const (
	// FoldsKey is the number of cross-fitting folds.
	FoldsKey = "crossfit.folds"

	// TreesKey is the number of trees in a forest estimator.
	TreesKey = "forest.trees"

	// ReplicasKey is the number of bootstrap replicas.
	ReplicasKey = "bootstrap.replicas"

	// IterationsKey is the iteration count of an iterative solver.
	IterationsKey = "solver.iterations"

	// DurationKey is the wall-clock duration of an operation.
	DurationKey = "perf.duration"
)
