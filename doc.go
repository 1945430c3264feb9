// Package causalgo estimates heterogeneous treatment effects from
// observational and instrumented data.
//
// The estimators share one surface: Fit on (Y, T, X, W) arrays, Effect /
// MarginalEffect / ConstMarginalEffect queries on new feature rows, and
// interval queries through an inference object attached at fit time.
//
//   - dml: double machine learning (LinearDML, SparseLinearDML, KernelDML)
//   - orthoforest: orthogonal random forest
//   - metalearners: S, T, X and domain adaptation learners
//   - tsls: sieve two stage least squares with instruments
//   - deepiv: neural instrumented response surfaces
//   - inference: bootstrap and normal-theory intervals
//
// Nuisance models are pluggable through the core/model interfaces; the
// linear, forest and nnet packages ship ready-made ones.
//
// A minimal session:
//
//	est := dml.NewLinearDML()
//	if err := est.Fit(y, t, x, w, cate.WithInference(inference.NewLinearModelInference())); err != nil {
//		...
//	}
//	eff, _ := est.Effect(xTest, nil, nil)
//	lo, hi, _ := est.EffectInterval(xTest, nil, nil, 0.1)
package causalgo
