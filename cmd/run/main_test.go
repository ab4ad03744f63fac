package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/pomerol-ed/pomerol-sub001/config"
	"github.com/pomerol-ed/pomerol-sub001/mat"
)

func readRecords(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return records
}

func TestSolve(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg.Beta = 10
	cfg.Ranks = 2
	cfg.Matsubara = config.MatsubaraConfig{Fermionic: 4, Bosonic: 2, TwoParticle: 2}
	cfg.Compute = config.ComputeConfig{
		GF:             true,
		Susceptibility: true,
		TwoParticleGF:  true,
		ThreePoint:     true,
		Channel:        "PH",
		ClearTerms:     true,
	}
	dir := t.TempDir()
	if err := solve(context.Background(), dir, cfg, nil); err != nil {
		t.Fatalf("%+v", err)
	}

	tests := []struct {
		fname   string
		rows    int
		columns int
	}{
		{fname: fnameEigen, rows: 1 + 4, columns: 3},
		{fname: fnameGF, rows: 1 + 4, columns: 1 + 2},
		{fname: fnameChi, rows: 1 + 2, columns: 1 + 2},
		{fname: fnameTwoPGF, rows: 1 + 4*4*4, columns: 3 + 3},
		{fname: fnameVertex, rows: 1 + 4*4*4, columns: 3 + 3},
		{fname: fnameThreePoint, rows: 1 + 4*4, columns: 2 + 4},
	}
	for _, test := range tests {
		records := readRecords(t, filepath.Join(dir, test.fname))
		if len(records) != test.rows {
			t.Fatalf("%s: %d rows, expected %d", test.fname, len(records), test.rows)
		}
		if len(records[0]) != test.columns {
			t.Fatalf("%s: %v, expected %d columns", test.fname, records[0], test.columns)
		}
	}
	for _, fname := range []string{fnameStatistics, fnameDone, cfg.Store} {
		if _, err := os.Stat(filepath.Join(dir, fname)); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	// Every block of the atom holds a single state, and the eigenvectors are normalized.
	entries, err := os.ReadDir(filepath.Join(dir, dirVectors))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("%d blocks, expected 4", len(entries))
	}
	for _, ent := range entries {
		v, err := mat.ReadFile(filepath.Join(dir, dirVectors, ent.Name()))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		for j := range v.Cols() {
			var norm float64
			for _, x := range v.Col(j) {
				norm += real(x.V * cmplx.Conj(x.V))
			}
			if math.Abs(norm-1) > 1e-12 {
				t.Fatalf("%s %d: %f, expected 1", ent.Name(), j, norm)
			}
		}
	}

	// A finished run is skipped.
	if err := os.Remove(filepath.Join(dir, fnameGF)); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := solve(context.Background(), dir, cfg, nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fnameGF)); !os.IsNotExist(err) {
		t.Fatalf("%v, expected the run to be skipped", err)
	}
}

func TestParseSweep(t *testing.T) {
	t.Parallel()
	us, err := parseSweep("", 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(us) != 1 || us[0] != 2 {
		t.Fatalf("%v, expected [2]", us)
	}
	us, err = parseSweep("0.5, 1,2.5", 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := []float64{0.5, 1, 2.5}
	if len(us) != len(want) {
		t.Fatalf("%v, expected %v", us, want)
	}
	for i := range want {
		if us[i] != want[i] {
			t.Fatalf("%v, expected %v", us, want)
		}
	}
	if _, err := parseSweep("1,x", 2); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
