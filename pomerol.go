// Package pomerol runs the exact diagonalization pipeline on preset models.
package pomerol

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/config"
	"github.com/pomerol-ed/pomerol-sub001/density"
	"github.com/pomerol-ed/pomerol-sub001/expr"
	"github.com/pomerol-ed/pomerol-sub001/gf"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/hilbert"
	"github.com/pomerol-ed/pomerol-sub001/index"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/mpi"
	"github.com/pomerol-ed/pomerol-sub001/operator"
	"github.com/pomerol-ed/pomerol-sub001/presets"
	"github.com/pomerol-ed/pomerol-sub001/susceptibility"
	"github.com/pomerol-ed/pomerol-sub001/threepoint"
	"github.com/pomerol-ed/pomerol-sub001/twopgf"
	"github.com/pomerol-ed/pomerol-sub001/vertex"
)

// Impurity is the site whose correlators are computed.
const Impurity = "A"

// BuildModel returns the preset Hamiltonian named in cfg.
func BuildModel(cfg config.ModelConfig) (*index.Registry[index.Index], expr.Expression, error) {
	var terms presets.Term
	switch cfg.Name {
	case config.ModelHubbardAtom:
		terms = presets.HubbardAtom(cfg.U, cfg.Mu, cfg.Field)
	case config.ModelHubbardDimer:
		terms = presets.Sum(presets.HubbardDimer(cfg.U, cfg.Mu, cfg.T), presets.Magnetization(Impurity, -cfg.Field, 1))
	case config.ModelAnderson:
		var err error
		terms, err = presets.Anderson(cfg.U, cfg.Mu, cfg.Levels, cfg.Hoppings)
		if err != nil {
			return nil, expr.Expression{}, errors.Wrap(err, "")
		}
		terms = append(terms, presets.Magnetization(Impurity, -cfg.Field, 1)...)
	default:
		return nil, expr.Expression{}, errors.Errorf("unknown model %q", cfg.Name)
	}
	reg, h, err := presets.Build(terms)
	if err != nil {
		return nil, expr.Expression{}, errors.Wrap(err, "")
	}
	return reg, h, nil
}

type Statistics struct {
	EigenValue    []float64
	GroundEnergy  float64
	LogZ          float64
	AverageEnergy float64
	Occupation    []float64
}

// GetStatistics returns the sorted spectrum, thermodynamics and the occupation of every flat index.
func GetStatistics(ham *hamiltonian.Hamiltonian, dm *density.DensityMatrix) (Statistics, error) {
	stats := Statistics{
		EigenValue:   ham.EigenValues(),
		GroundEnergy: ham.GroundEnergy(),
		LogZ:         dm.LogZ(),
	}
	slices.Sort(stats.EigenValue)
	var err error
	stats.AverageEnergy, err = dm.AverageEnergy()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	for i := range ham.Layout().Bits {
		n, err := dm.AverageOccupation(i)
		if err != nil {
			return Statistics{}, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		stats.Occupation = append(stats.Occupation, n)
	}
	return stats, nil
}

type Result struct {
	Registry    *index.Registry[index.Index]
	Hamiltonian *hamiltonian.Hamiltonian
	Statistics  Statistics

	// Up and Down are the flat indices of the impurity.
	Up, Down int

	// GF holds G_ii(i w_n) for n in [0, cfg.Matsubara.Fermionic).
	GF          map[gf.Pair][]complex128
	GFContainer *gf.Container

	// Susceptibility holds the connected <n_i; n_j>(i W_n) for n in [0, cfg.Matsubara.Bosonic), keyed by (i, j).
	Susceptibility   map[[2]int][]complex128
	Susceptibilities map[[2]int]*susceptibility.Susceptibility

	TwoParticleGF     map[twopgf.Quad][]complex128
	TwoParticlePoints [][3]int
	// Vertex holds the amputated vertex of every two-particle function on TwoParticlePoints.
	Vertex map[twopgf.Quad][]complex128

	ThreePoint          map[threepoint.Pair][]complex128
	ThreePointPoints    [][2]int
	ThreePointContainer *threepoint.Container
}

type pipeline struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	comm    *mpi.Comm
	res     *Result

	dm  *density.DensityMatrix
	ops *operator.Container
}

// Run solves the configured model on cfg.Ranks ranks and returns the result of rank 0.
func Run(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	var res *Result
	err := mpi.Run(ctx, cfg.Ranks, func(ctx context.Context, comm *mpi.Comm) error {
		p := &pipeline{cfg: cfg, metrics: m, comm: comm, res: &Result{}}
		if err := p.run(ctx); err != nil {
			return errors.Wrap(err, fmt.Sprintf("rank %d", comm.Rank()))
		}
		if comm.Rank() == 0 {
			res = p.res
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return res, nil
}

func (p *pipeline) run(ctx context.Context) error {
	reg, h, err := BuildModel(p.cfg.Model)
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.res.Registry = reg
	p.res.Up = reg.MustFlat(index.Index{Site: Impurity, Spin: index.Up})
	p.res.Down = reg.MustFlat(index.Index{Site: Impurity, Spin: index.Down})

	var opts []hilbert.Option
	if p.cfg.BosonBits != 0 {
		opts = append(opts, hilbert.WithBosonBits(p.cfg.BosonBits))
	}
	if len(p.cfg.IndexBits) != 0 {
		opts = append(opts, hilbert.WithIndexBits(p.cfg.IndexBits))
	}
	space, err := hilbert.New(h, reg.Len(), opts...)
	if err != nil {
		return errors.Wrap(err, "")
	}
	cls, err := space.Partition()
	if err != nil {
		return errors.Wrap(err, "")
	}
	ham := hamiltonian.New(h, space.Layout, cls, hamiltonian.WithMetrics(p.metrics))
	if err := ham.Prepare(ctx, p.comm); err != nil {
		return errors.Wrap(err, "")
	}
	if err := ham.Compute(ctx, p.comm); err != nil {
		return errors.Wrap(err, "")
	}
	p.res.Hamiltonian = ham

	p.dm = density.New(ham, p.cfg.Beta)
	if err := p.dm.Prepare(); err != nil {
		return errors.Wrap(err, "")
	}
	if err := p.dm.Compute(); err != nil {
		return errors.Wrap(err, "")
	}
	if tol := p.cfg.Tolerances.DensityMatrix; tol > 0 {
		if _, _, err := p.dm.Truncate(tol); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if p.res.Statistics, err = GetStatistics(ham, p.dm); err != nil {
		return errors.Wrap(err, "")
	}

	p.ops = operator.NewContainer(ham, []int{p.res.Down, p.res.Up}, p.metrics)
	if err := p.ops.ComputeAll(ctx, p.comm); err != nil {
		return errors.Wrap(err, "")
	}

	c := p.cfg.Compute
	steps := []struct {
		on  bool
		run func(context.Context) error
	}{
		{c.GF, p.greensFunctions},
		{c.Susceptibility, p.susceptibilities},
		{c.TwoParticleGF, p.twoParticle},
		{c.ThreePoint, p.threePoint},
	}
	for i, s := range steps {
		if !s.on {
			continue
		}
		if err := s.run(ctx); err != nil {
			return errors.Wrap(err, fmt.Sprintf("step %d", i))
		}
	}
	return nil
}

func (p *pipeline) spins() []int { return []int{p.res.Up, p.res.Down} }

func (p *pipeline) newGFContainer() *gf.Container {
	tol := p.cfg.Tolerances
	gfs := gf.NewContainer(p.ops, p.dm, p.metrics)
	gfs.MatrixElementTolerance = tol.MatrixElement
	gfs.ReduceResonanceTolerance = tol.ReduceResonance
	gfs.ReduceTolerance = tol.Reduce
	return gfs
}

func (p *pipeline) greensFunctions(ctx context.Context) error {
	gfs := p.newGFContainer()
	var pairs []gf.Pair
	for _, s := range p.spins() {
		pairs = append(pairs, gf.Pair{s, s})
	}
	if err := gfs.PrepareAll(pairs); err != nil {
		return errors.Wrap(err, "")
	}
	freqs := make([]int, p.cfg.Matsubara.Fermionic)
	for n := range freqs {
		freqs[n] = n
	}
	if err := gfs.ComputeAll(ctx, p.comm, freqs, p.cfg.Compute.ClearTerms); err != nil {
		return errors.Wrap(err, "")
	}

	p.res.GFContainer = gfs
	p.res.GF = make(map[gf.Pair][]complex128)
	for _, ij := range gfs.Pairs() {
		g, err := gfs.Get(ij[0], ij[1])
		if err != nil {
			return errors.Wrap(err, "")
		}
		values := make([]complex128, len(freqs))
		for k, n := range freqs {
			if values[k], err = g.At(n); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%v %d", ij, n))
			}
		}
		p.res.GF[ij] = values
	}
	return nil
}

func (p *pipeline) susceptibilities(ctx context.Context) error {
	ham := p.dm.Hamiltonian()
	occupation := make(map[int]*operator.Operator)
	for _, s := range p.spins() {
		n, err := operator.NewQuadratic(s, s, true, false, ham)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := n.Prepare(); err != nil {
			return errors.Wrap(err, "")
		}
		if err := n.Compute(ctx, p.comm, mpi.WithMetrics(p.metrics)); err != nil {
			return errors.Wrap(err, "")
		}
		occupation[s] = n
	}

	tol := p.cfg.Tolerances
	p.res.Susceptibility = make(map[[2]int][]complex128)
	p.res.Susceptibilities = make(map[[2]int]*susceptibility.Susceptibility)
	for _, ij := range [][2]int{{p.res.Up, p.res.Up}, {p.res.Up, p.res.Down}} {
		chi := susceptibility.New(occupation[ij[0]], occupation[ij[1]], p.dm)
		chi.MatrixElementTolerance = tol.MatrixElement
		chi.ReduceResonanceTolerance = tol.ReduceResonance
		chi.ReduceTolerance = tol.Reduce
		if err := chi.Prepare(); err != nil {
			return errors.Wrap(err, "")
		}
		if err := chi.Compute(ctx, p.comm, mpi.WithMetrics(p.metrics), mpi.WithName("susceptibility part")); err != nil {
			return errors.Wrap(err, "")
		}
		if err := chi.SubtractDisconnected(); err != nil {
			return errors.Wrap(err, "")
		}
		if p.comm.Rank() == 0 {
			p.metrics.Terms("susceptibility", chi.NumTerms())
		}

		values := make([]complex128, p.cfg.Matsubara.Bosonic)
		for n := range values {
			values[n] = chi.At(n)
		}
		p.res.Susceptibility[ij] = values
		p.res.Susceptibilities[ij] = chi
	}
	return nil
}

// symmetricGrid returns the indices in [-n, n).
func symmetricGrid(n int) []int {
	g := make([]int, 0, 2*n)
	for k := -n; k < n; k++ {
		g = append(g, k)
	}
	return g
}

func (p *pipeline) twoParticle(ctx context.Context) error {
	tol := p.cfg.Tolerances
	c := twopgf.NewContainer(p.ops, p.dm, p.metrics)
	c.ReduceResonanceTolerance = tol.ReduceResonance
	c.CoefficientTolerance = tol.Coefficient

	up, dn := p.res.Up, p.res.Down
	quads := []twopgf.Quad{{up, up, up, up}, {up, dn, up, dn}, {up, dn, dn, up}}
	if err := c.PrepareAll(quads); err != nil {
		return errors.Wrap(err, "")
	}
	grid := symmetricGrid(p.cfg.Matsubara.TwoParticle)
	var points [][3]int
	for _, n1 := range grid {
		for _, n2 := range grid {
			for _, n3 := range grid {
				points = append(points, [3]int{n1, n2, n3})
			}
		}
	}
	if err := c.ComputeAll(ctx, p.comm, points, p.cfg.Compute.ClearTerms); err != nil {
		return errors.Wrap(err, "")
	}

	p.res.TwoParticlePoints = points
	p.res.TwoParticleGF = make(map[twopgf.Quad][]complex128)
	for _, q := range c.Quads() {
		g, err := c.Get(q)
		if err != nil {
			return errors.Wrap(err, "")
		}
		values := make([]complex128, len(points))
		for k, n := range points {
			if values[k], err = g.At(n[0], n[1], n[2]); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%v %v", q, n))
			}
		}
		p.res.TwoParticleGF[q] = values
	}

	if err := p.vertices(ctx, c); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// legs returns the Green's functions between every pair of impurity spins with their terms kept.
// The vertex evaluates them at n1+n2-n3, off the fermionic grid.
func (p *pipeline) legs(ctx context.Context) (map[gf.Pair]*gf.GreensFunction, error) {
	gfs := p.newGFContainer()
	var pairs []gf.Pair
	for _, i := range p.spins() {
		for _, j := range p.spins() {
			pairs = append(pairs, gf.Pair{i, j})
		}
	}
	if err := gfs.PrepareAll(pairs); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := gfs.ComputeAll(ctx, p.comm, []int{0}, false); err != nil {
		return nil, errors.Wrap(err, "")
	}
	legs := make(map[gf.Pair]*gf.GreensFunction, len(pairs))
	for _, ij := range pairs {
		g, err := gfs.Get(ij[0], ij[1])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		legs[ij] = g
	}
	return legs, nil
}

func (p *pipeline) vertices(ctx context.Context, c *twopgf.Container) error {
	legs, err := p.legs(ctx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.res.Vertex = make(map[twopgf.Quad][]complex128)
	for _, q := range c.Quads() {
		chi, err := c.Get(q)
		if err != nil {
			return errors.Wrap(err, "")
		}
		g := func(a, b int) *gf.GreensFunction { return legs[gf.Pair{q[a], q[b]}] }
		v := vertex.New(p.cfg.Beta, chi, g(0, 2), g(1, 3), g(0, 3), g(1, 2))
		values := make([]complex128, len(p.res.TwoParticlePoints))
		for k, n := range p.res.TwoParticlePoints {
			values[k], err = v.Amputated(g(0, 0), g(1, 1), g(2, 2), g(3, 3), n[0], n[1], n[2])
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("%v %v", q, n))
			}
		}
		p.res.Vertex[q] = values
	}
	return nil
}

func (p *pipeline) threePoint(ctx context.Context) error {
	channel, err := threepoint.ParseChannel(p.cfg.Compute.Channel)
	if err != nil {
		return errors.Wrap(err, "")
	}
	up, dn := p.res.Up, p.res.Down
	c, err := threepoint.NewContainer(p.ops, p.dm, channel, up, dn, p.metrics)
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.ReduceResonanceTolerance = p.cfg.Tolerances.ReduceResonance
	c.CoefficientTolerance = p.cfg.Tolerances.Coefficient

	var pairs []threepoint.Pair
	for _, i := range p.spins() {
		for _, j := range p.spins() {
			pairs = append(pairs, threepoint.Pair{i, j})
		}
	}
	if err := c.PrepareAll(pairs); err != nil {
		return errors.Wrap(err, "")
	}
	grid := symmetricGrid(p.cfg.Matsubara.TwoParticle)
	var points [][2]int
	for _, n1 := range grid {
		for _, n2 := range grid {
			points = append(points, [2]int{n1, n2})
		}
	}
	if err := c.ComputeAll(ctx, p.comm, points, p.cfg.Compute.ClearTerms); err != nil {
		return errors.Wrap(err, "")
	}

	p.res.ThreePointContainer = c
	p.res.ThreePointPoints = points
	p.res.ThreePoint = make(map[threepoint.Pair][]complex128)
	for _, ij := range c.Pairs() {
		s, err := c.Get(ij[0], ij[1])
		if err != nil {
			return errors.Wrap(err, "")
		}
		values := make([]complex128, len(points))
		for k, n := range points {
			if values[k], err = s.At(n[0], n[1]); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%v %v", ij, n))
			}
		}
		p.res.ThreePoint[ij] = values
	}
	return nil
}
