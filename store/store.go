// Package store persists eigendecompositions and Lehmann terms in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/gf"
	"github.com/pomerol-ed/pomerol-sub001/hamiltonian"
	"github.com/pomerol-ed/pomerol-sub001/lehmann"
	pmat "github.com/pomerol-ed/pomerol-sub001/mat"
	"github.com/pomerol-ed/pomerol-sub001/susceptibility"
)

const (
	tableEigen    = "eigen"
	tableEnergies = "energies"
	tableTerms    = "terms"

	KindGF             = "gf"
	KindSusceptibility = "chi"
	KindZeroPole       = "chi0"

	opTimeout = 3 * time.Second
)

type DB struct {
	Path string

	db *sql.DB
}

// Open opens the database at path, creating the tables if needed.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, path)
	}
	return &DB{Path: path, db: db}, nil
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (block INTEGER, i INTEGER, j INTEGER, re REAL, im REAL, PRIMARY KEY (block, i, j)) STRICT`, tableEigen),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (block INTEGER, i INTEGER, e REAL, PRIMARY KEY (block, i)) STRICT`, tableEnergies),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, kind TEXT, p1 REAL, p2 REAL, p3 REAL, re REAL, im REAL, flag INTEGER) STRICT`, tableTerms),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, s)
		}
	}
	return nil
}

// withTx runs f in a transaction that is committed if f succeeds.
func (d *DB) withTx(ctx context.Context, f func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err := f(tx); err != nil {
		return errors.Wrap(err, "")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// SaveHamiltonian replaces the stored eigenvalues and the nonzero eigenvector components of every block.
func (d *DB) SaveHamiltonian(ctx context.Context, ham *hamiltonian.Hamiltonian) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{tableEigen, tableEnergies} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
				return errors.Wrap(err, table)
			}
		}
		energy, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (block, i, e) VALUES (?, ?, ?)`, tableEnergies))
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer energy.Close()
		eigen, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (block, i, j, re, im) VALUES (?, ?, ?, ?, ?)`, tableEigen))
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer eigen.Close()

		for b := range ham.NumParts() {
			p := ham.Part(b)
			for j := range p.NumEigen() {
				if _, err := energy.ExecContext(ctx, b, j, p.EigenValue(j)); err != nil {
					return errors.Wrap(err, fmt.Sprintf("block %d %d", b, j))
				}
				for i := range p.Size() {
					v := p.Vector(i, j)
					if v == 0 {
						continue
					}
					if _, err := eigen.ExecContext(ctx, b, i, j, real(v), imag(v)); err != nil {
						return errors.Wrap(err, fmt.Sprintf("block %d (%d, %d)", b, i, j))
					}
				}
			}
		}
		return nil
	})
}

// LoadEigenvalues returns the stored eigenvalues of every block in ascending inner index.
func (d *DB) LoadEigenvalues(ctx context.Context) (map[int][]float64, error) {
	sqlStr := fmt.Sprintf(`SELECT block, i, e FROM %s ORDER BY block, i`, tableEnergies)
	rows, err := d.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	values := make(map[int][]float64)
	for rows.Next() {
		var b, i int
		var e float64
		if err := rows.Scan(&b, &i, &e); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if i != len(values[b]) {
			return nil, errors.Errorf("block %d: eigenvalue %d after %d", b, i, len(values[b]))
		}
		values[b] = append(values[b], e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return values, nil
}

// LoadEigenvectors returns the eigenvectors of block b as the columns of a size x size matrix.
func (d *DB) LoadEigenvectors(ctx context.Context, b, size int) (*pmat.COO, error) {
	sqlStr := fmt.Sprintf(`SELECT i, j, re, im FROM %s WHERE block=? ORDER BY i, j`, tableEigen)
	rows, err := d.db.QueryContext(ctx, sqlStr, b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var data []pmat.VRowCol
	for rows.Next() {
		var i, j int
		var re, im float64
		if err := rows.Scan(&i, &j, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if i >= size || j >= size {
			return nil, errors.Errorf("block %d: (%d, %d) outside %d", b, i, j, size)
		}
		data = append(data, pmat.VRowCol{V: complex(re, im), Row: i, Col: j})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return pmat.NewCOO(size, size, data), nil
}

type term struct {
	poles [3]float64
	v     complex128
	flag  int
}

func (d *DB) saveTerms(ctx context.Context, name, kind string, terms []term) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE name=? AND kind=?`, tableTerms)
		if _, err := tx.ExecContext(ctx, sqlStr, name, kind); err != nil {
			return errors.Wrap(err, "")
		}
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (name, kind, p1, p2, p3, re, im, flag) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableTerms))
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer stmt.Close()
		for _, t := range terms {
			args := []any{name, kind, t.poles[0], t.poles[1], t.poles[2], real(t.v), imag(t.v), t.flag}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%#v", args))
			}
		}
		return nil
	})
}

func (d *DB) loadTerms(ctx context.Context, name, kind string) ([]term, error) {
	sqlStr := fmt.Sprintf(`SELECT p1, p2, p3, re, im, flag FROM %s WHERE name=? AND kind=? ORDER BY p1, p2, p3`, tableTerms)
	rows, err := d.db.QueryContext(ctx, sqlStr, name, kind)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var terms []term
	for rows.Next() {
		var t term
		var re, im float64
		if err := rows.Scan(&t.poles[0], &t.poles[1], &t.poles[2], &re, &im, &t.flag); err != nil {
			return nil, errors.Wrap(err, "")
		}
		t.v = complex(re, im)
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return terms, nil
}

func poleTerms(poles []lehmann.Pole) []term {
	terms := make([]term, 0, len(poles))
	for _, p := range poles {
		terms = append(terms, term{poles: [3]float64{p.Pole}, v: p.Residue})
	}
	return terms
}

// SaveGF replaces the terms stored under name with the terms of every part of g.
// It fails with gf.ErrTermsCleared if the terms of g were dropped.
func (d *DB) SaveGF(ctx context.Context, name string, g *gf.GreensFunction) error {
	if g.Cleared() {
		return errors.Wrap(gf.ErrTermsCleared, name)
	}
	var terms []term
	for _, p := range g.Parts() {
		terms = append(terms, poleTerms(p.Terms())...)
	}
	if err := d.saveTerms(ctx, name, KindGF, terms); err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}

// LoadGFTerms returns the poles stored under name, sorted by position.
func (d *DB) LoadGFTerms(ctx context.Context, name string) ([]lehmann.Pole, error) {
	terms, err := d.loadTerms(ctx, name, KindGF)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	poles := make([]lehmann.Pole, 0, len(terms))
	for _, t := range terms {
		poles = append(poles, lehmann.Pole{Residue: t.v, Pole: t.poles[0]})
	}
	return poles, nil
}

// SaveSusceptibility stores the poles of s under name and its static weight as a single zero pole term.
func (d *DB) SaveSusceptibility(ctx context.Context, name string, s *susceptibility.Susceptibility) error {
	var terms []term
	var zero complex128
	for _, p := range s.Parts() {
		terms = append(terms, poleTerms(p.Terms())...)
		zero += p.ZeroPoleWeight()
	}
	if err := d.saveTerms(ctx, name, KindSusceptibility, terms); err != nil {
		return errors.Wrap(err, name)
	}
	if err := d.saveTerms(ctx, name, KindZeroPole, []term{{v: zero}}); err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}
