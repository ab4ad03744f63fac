package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001"
	"github.com/pomerol-ed/pomerol-sub001/config"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/store"
	"github.com/pomerol-ed/pomerol-sub001/threepoint"
	"github.com/pomerol-ed/pomerol-sub001/twopgf"
)

const (
	fnameEigen      = "eig.csv"
	fnameGF         = "gf.csv"
	fnameChi        = "chi.csv"
	fnameTwoPGF     = "twopgf.csv"
	fnameVertex     = "vertex.csv"
	fnameThreePoint = "threepoint.csv"
	dirVectors      = "vectors"
	fnameDone       = "done.txt"
	fnameStatistics = "statistics.json"
	fnameMetrics    = "metrics.txt"
)

var (
	configPath  = flag.String("c", "", "config file")
	runDir      = flag.String("d", "", "run directory, overrides the config")
	interaction = flag.String("u", "", "comma separated interaction strengths to sweep, defaults to the one in the config")
	metricsAddr = flag.String("metrics-addr", ":9090", "metrics listen address")
)

type Statistics struct {
	u float64
	pomerol.Statistics
}

func solve(ctx context.Context, dir string, cfg *config.Config, m *metrics.Metrics) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	res, err := pomerol.Run(ctx, cfg, m)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeEig(dir, res.Hamiltonian); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeGF(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeChi(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeTwoParticle(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeThreePoint(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeVectors(filepath.Join(dir, dirVectors), res.Hamiltonian); err != nil {
		return errors.Wrap(err, "")
	}
	if err := save(ctx, filepath.Join(dir, cfg.Store), res); err != nil {
		return errors.Wrap(err, "")
	}

	b, err := json.Marshal(res.Statistics)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameStatistics), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	if m != nil {
		if err := writeMetrics(dir, m); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func save(ctx context.Context, path string, res *pomerol.Result) (err error) {
	db, err := store.Open(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer func() {
		if err1 := db.Close(); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
		}
	}()

	if err := db.SaveHamiltonian(ctx, res.Hamiltonian); err != nil {
		return errors.Wrap(err, "")
	}
	if res.GFContainer != nil {
		for _, ij := range res.GFContainer.Pairs() {
			g, err := res.GFContainer.Get(ij[0], ij[1])
			if err != nil {
				return errors.Wrap(err, "")
			}
			if g.Cleared() {
				log.Printf("g%d%d: terms cleared, not stored", ij[0], ij[1])
				continue
			}
			if err := db.SaveGF(ctx, fmt.Sprintf("g%d%d", ij[0], ij[1]), g); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}
	for ij, chi := range res.Susceptibilities {
		if err := db.SaveSusceptibility(ctx, fmt.Sprintf("n%dn%d", ij[0], ij[1]), chi); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// gather reads the statistics of every swept interaction, taking the spectrum from the databases.
func gather(ctx context.Context, dir, dbName string) ([]Statistics, error) {
	cache := store.NewCache()
	stats := make([]Statistics, 0)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for _, ent := range entries {
		u, err := strconv.ParseFloat(ent.Name(), 64)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", ent))
		}
		udir := filepath.Join(dir, ent.Name())
		b, err := os.ReadFile(filepath.Join(udir, fnameStatistics))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", ent))
		}
		s := Statistics{u: u}
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", ent))
		}

		blocks, err := cache.Eigenvalues(ctx, filepath.Join(udir, dbName))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", ent))
		}
		s.EigenValue = s.EigenValue[:0]
		for _, e := range blocks {
			s.EigenValue = append(s.EigenValue, e...)
		}
		slices.Sort(s.EigenValue)
		stats = append(stats, s)
	}
	slices.SortFunc(stats, func(a, b Statistics) int {
		switch {
		case a.u < b.u:
			return -1
		case a.u > b.u:
			return 1
		}
		return 0
	})
	return stats, nil
}

func writeCSV(path string, header []string, rows func(yield func([]string) bool)) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(f)

	if err1 := w.Write(header); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	for row := range rows {
		if err1 := w.Write(row); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func writeEig(dir string, ham *hamiltonian.Hamiltonian) error {
	return writeCSV(filepath.Join(dir, fnameEigen), []string{"block", "i", "e"}, func(yield func([]string) bool) {
		for b := range ham.NumParts() {
			p := ham.Part(b)
			for i := range p.NumEigen() {
				e := strconv.FormatFloat(p.EigenValue(i), 'g', -1, 64)
				if !yield([]string{strconv.Itoa(b), strconv.Itoa(i), e}) {
					return
				}
			}
		}
	})
}

func writeGF(dir string, res *pomerol.Result) error {
	if res.GFContainer == nil {
		return nil
	}
	header := []string{"n"}
	var columns [][]complex128
	for _, ij := range res.GFContainer.Pairs() {
		header = append(header, fmt.Sprintf("g%d%d", ij[0], ij[1]))
		columns = append(columns, res.GF[ij])
	}
	return writeCSV(filepath.Join(dir, fnameGF), header, rowsOf(columns))
}

func writeChi(dir string, res *pomerol.Result) error {
	keys := make([][2]int, 0, len(res.Susceptibility))
	for ij := range res.Susceptibility {
		keys = append(keys, ij)
	}
	slices.SortFunc(keys, func(a, b [2]int) int { return slices.Compare(a[:], b[:]) })

	header := []string{"n"}
	var columns [][]complex128
	for _, ij := range keys {
		header = append(header, fmt.Sprintf("n%dn%d", ij[0], ij[1]))
		columns = append(columns, res.Susceptibility[ij])
	}
	return writeCSV(filepath.Join(dir, fnameChi), header, rowsOf(columns))
}

// rowsOf yields the frequency index followed by one value of every column.
func rowsOf(columns [][]complex128) func(yield func([]string) bool) {
	var points [][]int
	if len(columns) > 0 {
		points = make([][]int, len(columns[0]))
		for n := range points {
			points[n] = []int{n}
		}
	}
	return pointRows(points, columns)
}

// pointRows yields the frequency indices of every point followed by one value of every column.
func pointRows(points [][]int, columns [][]complex128) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for k, n := range points {
			row := make([]string, 0, len(n)+len(columns))
			for _, i := range n {
				row = append(row, strconv.Itoa(i))
			}
			for _, c := range columns {
				row = append(row, mat.FormatNumpy(c[k]))
			}
			if !yield(row) {
				return
			}
		}
	}
}

func writeTwoParticle(dir string, res *pomerol.Result) error {
	if res.TwoParticleGF == nil {
		return nil
	}
	quads := make([]twopgf.Quad, 0, len(res.TwoParticleGF))
	for q := range res.TwoParticleGF {
		quads = append(quads, q)
	}
	slices.SortFunc(quads, func(a, b twopgf.Quad) int { return slices.Compare(a[:], b[:]) })

	points := make([][]int, len(res.TwoParticlePoints))
	for k := range res.TwoParticlePoints {
		points[k] = res.TwoParticlePoints[k][:]
	}
	header := []string{"n1", "n2", "n3"}
	chis := make([][]complex128, 0, len(quads))
	gammas := make([][]complex128, 0, len(quads))
	for _, q := range quads {
		header = append(header, fmt.Sprintf("%d%d%d%d", q[0], q[1], q[2], q[3]))
		chis = append(chis, res.TwoParticleGF[q])
		gammas = append(gammas, res.Vertex[q])
	}
	if err := writeCSV(filepath.Join(dir, fnameTwoPGF), header, pointRows(points, chis)); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeCSV(filepath.Join(dir, fnameVertex), header, pointRows(points, gammas)); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func writeThreePoint(dir string, res *pomerol.Result) error {
	if res.ThreePoint == nil {
		return nil
	}
	pairs := make([]threepoint.Pair, 0, len(res.ThreePoint))
	for ij := range res.ThreePoint {
		pairs = append(pairs, ij)
	}
	slices.SortFunc(pairs, func(a, b threepoint.Pair) int { return slices.Compare(a[:], b[:]) })

	points := make([][]int, len(res.ThreePointPoints))
	for k := range res.ThreePointPoints {
		points[k] = res.ThreePointPoints[k][:]
	}
	header := []string{"n1", "n2"}
	var columns [][]complex128
	for _, ij := range pairs {
		header = append(header, fmt.Sprintf("%d%d", ij[0], ij[1]))
		columns = append(columns, res.ThreePoint[ij])
	}
	return writeCSV(filepath.Join(dir, fnameThreePoint), header, pointRows(points, columns))
}

// writeVectors writes the eigenvectors of every block as a sparse matrix, one file per block.
func writeVectors(dir string, ham *hamiltonian.Hamiltonian) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	for b := range ham.NumParts() {
		p := ham.Part(b)
		data := make([]mat.VRowCol, 0, p.Size()*p.NumEigen())
		for i := range p.Size() {
			for j := range p.NumEigen() {
				data = append(data, mat.VRowCol{V: p.Vector(i, j), Row: i, Col: j})
			}
		}
		v := mat.NewCOO(p.Size(), p.NumEigen(), data).Prune(vectorTolerance)
		if err := v.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.csv", p.Block()))); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", b))
		}
	}
	return nil
}

func writeMetrics(dir string, m *metrics.Metrics) (err error) {
	f, err := os.Create(filepath.Join(dir, fnameMetrics))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err1 := m.WriteText(f); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func parseSweep(s string, def float64) ([]float64, error) {
	if s == "" {
		return []float64{def}, nil
	}
	var us []float64
	for _, f := range strings.Split(s, ",") {
		u, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%q", s))
		}
		us = append(us, u)
	}
	return us, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	ctx := context.Background()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if *runDir != "" {
		cfg.RunDir = *runDir
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "")
	}
	us, err := parseSweep(*interaction, cfg.Model.U)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("config\n%s", cfg)

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
		shutdown := m.StartServer(*metricsAddr)
		defer shutdown(ctx)
	}

	modelDir := filepath.Join(cfg.RunDir, cfg.Model.Name)
	if err := os.MkdirAll(modelDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	for _, u := range us {
		c := *cfg
		c.Model.U = u
		dir := filepath.Join(modelDir, fmt.Sprintf("%f", u))
		if err := solve(ctx, dir, &c, m); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%f", u))
		}
		log.Printf("%s %f", cfg.Model.Name, u)
	}

	// Gather results and print them.
	stats, err := gather(ctx, modelDir, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("u,e0,e1,logz,energy,n0,n1\n")
	for _, s := range stats {
		var e1 float64
		if len(s.EigenValue) > 1 {
			e1 = s.EigenValue[1]
		}
		var n0, n1 float64
		if len(s.Occupation) > 1 {
			n0, n1 = s.Occupation[0], s.Occupation[1]
		}
		fmt.Printf("%f,%f,%f,%f,%f,%f,%f\n", s.u, s.GroundEnergy, e1, s.LogZ, s.AverageEnergy, n0, n1)
	}
	return nil
}
