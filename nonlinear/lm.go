package nonlinear

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/linear"
)

// LevenbergMarquardtOptimizer 使因子图的误差最小。每次 Iterate 在当前估计处线性化、
// 求解阻尼系统，并增大阻尼直到步长不再增大误差。
//
// 优化器拥有自己的估计；图只被读取，可与其他优化器共享。
type LevenbergMarquardtOptimizer struct {
	graph   *FactorGraph
	params  LevenbergMarquardtParams
	log     logrus.FieldLogger
	metrics MetricsCollector

	values     *Values
	err        float64
	lambda     float64
	iterations int
	state      State
	failure    error
	optimized  bool
}

// NewLevenbergMarquardtOptimizer 检查参数、复制初值并计算初始误差。
// 图引用了 initial 中没有的变量时返回 *MissingKeyError。
func NewLevenbergMarquardtOptimizer(graph *FactorGraph, initial *Values, params LevenbergMarquardtParams) (*LevenbergMarquardtOptimizer, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid parameters")
	}
	values := initial.Clone()
	for _, k := range graph.Keys() {
		if !values.Exists(k) {
			return nil, &MissingKeyError{Key: k}
		}
	}
	e, err := graph.Error(values)
	if err != nil {
		return nil, errors.Wrap(err, "initial error")
	}
	o := &LevenbergMarquardtOptimizer{
		graph:   graph,
		params:  params,
		log:     params.logger(),
		metrics: params.metrics(),
		values:  values,
		err:     e,
		lambda:  params.LambdaInitial,
		state:   StateInitialized,
	}
	o.log.WithFields(logrus.Fields{
		"factors":   graph.Size(),
		"variables": values.Len(),
		"error":     e,
	}).Debug("optimizer created")
	return o, nil
}

// Values 返回当前估计的副本。失败后为最后接受的估计。
func (o *LevenbergMarquardtOptimizer) Values() *Values { return o.values.Clone() }

// Error 返回当前估计的总误差。
func (o *LevenbergMarquardtOptimizer) Error() float64 { return o.err }

// Lambda 返回当前阻尼。
func (o *LevenbergMarquardtOptimizer) Lambda() float64 { return o.lambda }

// Iterations 返回已接受的步数。
func (o *LevenbergMarquardtOptimizer) Iterations() int { return o.iterations }

// State 返回所处状态。
func (o *LevenbergMarquardtOptimizer) State() State { return o.state }

// Iterate 执行一次被接受的迭代，步长会增大误差时加大阻尼重试。
// 处于终止状态时什么也不做；失败后再次返回该失败。
func (o *LevenbergMarquardtOptimizer) Iterate() error {
	switch o.state {
	case StateConverged, StateExhausted:
		return nil
	case StateFailed:
		return o.failure
	case StateInitialized:
		o.setState(StateIterating)
	}

	if o.err <= o.params.ErrorTol {
		o.optimized = true
		o.setState(StateConverged)
		return nil
	}

	start := time.Now()
	gfg, err := o.graph.Linearize(o.values, WithWorkers(o.params.Workers))
	if err != nil {
		return o.fail(errors.Wrap(err, "linearize"))
	}
	o.metrics.RecordLinearize(gfg.Size(), time.Since(start))

	order := o.params.Ordering.Compute(gfg)
	var diag linear.VectorValues
	if o.params.DiagonalDamping {
		diag = gfg.HessianDiagonal()
		for _, d := range diag {
			for i := range d {
				d[i] = math.Min(math.Max(d[i], o.params.MinDiagonal), o.params.MaxDiagonal)
			}
		}
	}

	for {
		var lastErr error
		delta, err := o.solve(gfg, order, diag)
		switch {
		case err == nil:
			accepted, done, err := o.tryStep(delta)
			if err != nil {
				return o.fail(err)
			}
			if accepted || done {
				return nil
			}
		case isIndeterminant(err):
			lastErr = err
			o.log.WithError(err).WithField("lambda", o.lambda).Debug("damped system indeterminant")
		default:
			return o.fail(err)
		}

		o.lambda *= o.params.LambdaFactor
		if o.lambda >= o.params.LambdaUpperBound {
			if lastErr == nil {
				lastErr = ErrLambdaExceeded
			}
			return o.fail(&SolveError{Iteration: o.iterations, Lambda: o.lambda, cause: lastErr})
		}
	}
}

// tryStep 计算步长，误差不增大时接受。done 表示被拒绝的步长误差变化可以忽略，
// 优化就此结束。
func (o *LevenbergMarquardtOptimizer) tryStep(delta linear.VectorValues) (accepted, done bool, err error) {
	candidate, err := o.values.Retract(delta)
	if err != nil {
		return false, false, err
	}
	newErr, err := o.graph.Error(candidate)
	if err != nil {
		var ce *geometry.CheiralityError
		if errors.As(err, &ce) {
			o.log.WithError(err).WithField("lambda", o.lambda).Debug("step moved a point behind a camera")
			o.metrics.RecordIteration(false, o.err, o.lambda)
			return false, false, nil
		}
		return false, false, err
	}

	fields := logrus.Fields{
		"iteration": o.iterations,
		"error":     o.err,
		"new_error": newErr,
		"lambda":    o.lambda,
	}
	if newErr <= o.err {
		o.metrics.RecordIteration(true, newErr, o.lambda)
		o.log.WithFields(fields).WithField("accepted", true).Debug("step")
		prev := o.err
		o.values = candidate
		o.err = newErr
		o.iterations++
		o.optimized = true
		o.lambda = math.Max(o.lambda/o.params.LambdaFactor, o.lambdaFloor())
		switch {
		case o.hasConverged(prev, newErr):
			o.setState(StateConverged)
		case o.iterations >= o.params.MaxIterations:
			o.setState(StateExhausted)
		}
		return true, false, nil
	}

	o.metrics.RecordIteration(false, o.err, o.lambda)
	o.log.WithFields(fields).WithField("accepted", false).Debug("step")
	if o.hasConverged(o.err, newErr) {
		o.optimized = true
		o.setState(StateConverged)
		return false, true, nil
	}
	return false, false, nil
}

// lambdaFloor 保证阻尼为正，增大后才能达到上限。
func (o *LevenbergMarquardtOptimizer) lambdaFloor() float64 {
	return math.Max(o.params.LambdaLowerBound, math.SmallestNonzeroFloat64)
}

func (o *LevenbergMarquardtOptimizer) solve(gfg *linear.GaussianFactorGraph, order linear.Ordering, diag linear.VectorValues) (linear.VectorValues, error) {
	damped, err := gfg.Damped(o.lambda, diag)
	if err != nil {
		return nil, err
	}
	bn, err := damped.Eliminate(order)
	if err != nil {
		return nil, err
	}
	return bn.Optimize()
}

// hasConverged 用容差比较一步前后的误差。
func (o *LevenbergMarquardtOptimizer) hasConverged(current, next float64) bool {
	if next <= o.params.ErrorTol || current == 0 {
		return true
	}
	change := math.Abs(current - next)
	if change <= o.params.AbsoluteErrorTol {
		return true
	}
	return o.params.RelativeErrorTol > 0 && change/current <= o.params.RelativeErrorTol
}

// Optimize 迭代至终止状态并返回估计。
func (o *LevenbergMarquardtOptimizer) Optimize() (*Values, error) {
	for !o.state.Terminal() {
		if err := o.Iterate(); err != nil {
			return o.Values(), err
		}
	}
	if o.state == StateFailed {
		return o.Values(), o.failure
	}
	return o.Values(), nil
}

// Marginals 返回当前估计处的边缘分布。首次成功 Iterate 之前或失败之后
// 返回 ErrNotOptimized。
func (o *LevenbergMarquardtOptimizer) Marginals(opts ...LinearizeOption) (*Marginals, error) {
	if !o.optimized || o.state == StateFailed {
		return nil, errors.Wrapf(ErrNotOptimized, "state %s", o.state)
	}
	if len(opts) == 0 {
		opts = []LinearizeOption{WithWorkers(o.params.Workers)}
	}
	return NewMarginals(o.graph, o.values, opts...)
}

func (o *LevenbergMarquardtOptimizer) fail(err error) error {
	o.failure = err
	o.log.WithError(err).WithFields(logrus.Fields{
		"iteration": o.iterations,
		"lambda":    o.lambda,
	}).Warn("optimization failed")
	o.setState(StateFailed)
	return err
}

func (o *LevenbergMarquardtOptimizer) setState(s State) {
	if s == o.state {
		return
	}
	o.metrics.RecordStateChange(o.state, s)
	o.log.WithFields(logrus.Fields{
		"from":       o.state.String(),
		"to":         s.String(),
		"iterations": o.iterations,
		"error":      o.err,
	}).Info("optimizer state changed")
	o.state = s
}

func isIndeterminant(err error) bool {
	var ind *linear.IndeterminantError
	return errors.As(err, &ind)
}
