// Package levmar is a Levenberg-Marquardt least-squares solver with
// Marquardt diagonal scaling, built on gonum/mat.
package levmar

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/pkg/logger"
)

const (
	defaultTolerance = 1.49012e-8 // sqrt(machine epsilon)

	initialLambda = 1e-3
	minLambda     = 1e-12
	maxLambda     = 1e16
	lambdaFactor  = 10
)

// Solver implements fitting.Solver.
type Solver struct {
	maxIterations int
	xtol          float64
	ftol          float64
	logger        logger.Logger
}

var _ fitting.Solver = (*Solver)(nil)

// New creates a Solver with MINPACK-like defaults.
func New(opts ...Option) *Solver {
	s := &Solver{
		xtol:   defaultTolerance,
		ftol:   defaultTolerance,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// state holds the working buffers of one Solve call.
type state struct {
	prob fitting.Problem
	m, n int

	w    []float64 // 1/sigma
	p    []float64
	r    *mat.VecDense // weighted residuals (y - f) * w
	jac  *mat.Dense    // weighted model Jacobian w * df/dp
	jtj  *mat.SymDense
	g    *mat.VecDense // jacᵀ r
	cost float64

	grad []float64
}

// Solve minimizes the weighted residual sum of squares of prob.
func (s *Solver) Solve(ctx context.Context, prob fitting.Problem) (fitting.Solution, error) {
	if err := prob.Validate(); err != nil {
		return fitting.Solution{}, err
	}

	st := newState(prob)
	st.cost = st.residuals(st.p, st.r)
	if math.IsNaN(st.cost) || math.IsInf(st.cost, 0) {
		return fitting.Solution{}, model.NotConverged(prob.Label, "residuals are not finite at the initial guess")
	}

	maxIter := s.maxIterations
	if maxIter == 0 {
		maxIter = 200 * (st.n + 1)
	}

	n := st.n
	scale := make([]float64, n)
	d := make([]float64, n)
	pNew := make([]float64, n)
	rNew := mat.NewVecDense(st.m, nil)
	delta := make([]float64, n)
	lambda := initialLambda

	a := mat.NewSymDense(n, nil)
	b := mat.NewVecDense(n, nil)
	u := mat.NewVecDense(n, nil)
	var chol mat.Cholesky

	iter := 0
	converged := false
	for !converged {
		if err := ctx.Err(); err != nil {
			return fitting.Solution{}, err
		}
		if iter == maxIter {
			return fitting.Solution{}, model.NotConverged(prob.Label, "iteration limit %d reached", maxIter)
		}
		iter++

		st.jacobian()
		if st.cost == 0 {
			break
		}

		for j := 0; j < n; j++ {
			scale[j] = math.Max(scale[j], st.jtj.At(j, j))
			d[j] = 1
			if scale[j] > 0 && !math.IsInf(scale[j], 0) {
				d[j] = math.Sqrt(scale[j])
			}
		}

		for {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					v := st.jtj.At(i, j) / (d[i] * d[j])
					if i == j {
						v += lambda
					}
					a.SetSym(i, j, v)
				}
				b.SetVec(i, st.g.AtVec(i)/d[i])
			}

			solved := chol.Factorize(a)
			if solved {
				solved = chol.SolveVecTo(u, b) == nil
			}
			if !solved {
				lambda *= lambdaFactor
				if lambda > maxLambda {
					return fitting.Solution{}, model.NotConverged(prob.Label, "damping exceeded %g", maxLambda)
				}
				continue
			}

			// dtd is δᵀDδ, the squared norm of the scaled step u.
			var dtd, pnorm float64
			for j := 0; j < n; j++ {
				uj := u.AtVec(j)
				delta[j] = uj / d[j]
				pNew[j] = st.p[j] + delta[j]
				dtd += uj * uj
				dp := d[j] * st.p[j]
				pnorm += dp * dp
			}
			smallStep := math.Sqrt(dtd) <= s.xtol*(math.Sqrt(pnorm)+s.xtol)

			// Predicted reduction of the linearized model: δᵀJᵀJδ + 2λδᵀDδ.
			var quad float64
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					quad += delta[i] * st.jtj.At(i, j) * delta[j]
				}
			}
			pred := (quad + 2*lambda*dtd) / st.cost

			costNew := st.residuals(pNew, rNew)
			if !math.IsNaN(costNew) && !math.IsInf(costNew, 0) && costNew < st.cost {
				actual := (st.cost - costNew) / st.cost
				copy(st.p, pNew)
				st.r.CopyVec(rNew)
				st.cost = costNew
				lambda = math.Max(lambda/lambdaFactor, minLambda)

				s.logger.Debug(ctx, "levmar step accepted",
					logger.String("problem", prob.Label),
					logger.Int("iteration", iter),
					logger.Float64("cost", costNew),
					logger.Float64("lambda", lambda),
				)

				if st.cost == 0 || smallStep || (actual <= s.ftol && pred <= s.ftol) {
					converged = true
				}
				break
			}

			if smallStep {
				converged = true
				break
			}
			lambda *= lambdaFactor
			if lambda > maxLambda {
				return fitting.Solution{}, model.NotConverged(prob.Label, "damping exceeded %g", maxLambda)
			}
		}
	}

	st.jacobian()
	cov, err := fitting.Covariance(prob.Label, st.jac, prob.ColumnScale(st.p), st.cost, prob.AbsoluteSigma)
	if err != nil {
		return fitting.Solution{}, err
	}

	return fitting.Solution{
		Params:     append([]float64(nil), st.p...),
		Covariance: cov,
		ChiSquared: st.cost,
		Iterations: iter,
	}, nil
}

func newState(prob fitting.Problem) *state {
	m, n := len(prob.X), len(prob.Initial)
	st := &state{
		prob: prob,
		m:    m,
		n:    n,
		w:    make([]float64, m),
		p:    append([]float64(nil), prob.Initial...),
		r:    mat.NewVecDense(m, nil),
		jac:  mat.NewDense(m, n, nil),
		jtj:  mat.NewSymDense(n, nil),
		g:    mat.NewVecDense(n, nil),
		grad: make([]float64, n),
	}
	for i := range st.w {
		st.w[i] = 1
		if prob.Sigma != nil {
			st.w[i] = 1 / prob.Sigma[i]
		}
	}
	return st
}

// residuals fills r for parameters p and returns the sum of squares.
func (st *state) residuals(p []float64, r *mat.VecDense) float64 {
	var cost float64
	for i, x := range st.prob.X {
		ri := (st.prob.Y[i] - st.prob.Model(x, p)) * st.w[i]
		r.SetVec(i, ri)
		cost += ri * ri
	}
	return cost
}

// jacobian refreshes jac, jtj and g at the current parameters.
func (st *state) jacobian() {
	if st.prob.Grad != nil {
		for i, x := range st.prob.X {
			st.prob.Grad(st.grad, x, st.p)
			for j, v := range st.grad {
				st.jac.Set(i, j, v*st.w[i])
			}
		}
	} else {
		st.forwardDifferences()
	}
	st.jtj.SymOuterK(1, st.jac.T())
	st.g.MulVec(st.jac.T(), st.r)
}

func (st *state) forwardDifferences() {
	const eps = defaultTolerance
	shifted := append([]float64(nil), st.p...)
	for j := 0; j < st.n; j++ {
		h := eps * math.Abs(st.p[j])
		if h == 0 {
			h = eps
		}
		shifted[j] = st.p[j] + h
		h = shifted[j] - st.p[j]
		for i, x := range st.prob.X {
			f0 := st.prob.Model(x, st.p)
			f1 := st.prob.Model(x, shifted)
			st.jac.Set(i, j, (f1-f0)/h*st.w[i])
		}
		shifted[j] = st.p[j]
	}
}
