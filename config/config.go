// Package config loads run configurations from YAML files with environment overrides.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pomerol-ed/pomerol-sub001/threepoint"
)

const (
	ModelHubbardAtom  = "hubbard_atom"
	ModelHubbardDimer = "hubbard_dimer"
	ModelAnderson     = "anderson"
)

var models = []string{ModelHubbardAtom, ModelHubbardDimer, ModelAnderson}

type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Beta       float64          `yaml:"beta"`
	Ranks      int              `yaml:"ranks"`
	Matsubara  MatsubaraConfig  `yaml:"matsubara"`
	Compute    ComputeConfig    `yaml:"compute"`
	Tolerances TolerancesConfig `yaml:"tolerances"`
	BosonBits  uint             `yaml:"bosonBits"`
	IndexBits  map[int]uint     `yaml:"indexBits"`
	Store      string           `yaml:"store"`
	RunDir     string           `yaml:"runDir"`
	Metrics    bool             `yaml:"metrics"`
}

type ModelConfig struct {
	Name     string    `yaml:"name"`
	U        float64   `yaml:"u"`
	Mu       float64   `yaml:"mu"`
	T        float64   `yaml:"t"`
	Field    float64   `yaml:"field"`
	Levels   []float64 `yaml:"levels"`
	Hoppings []float64 `yaml:"hoppings"`
}

// MatsubaraConfig gives the number of non-negative frequencies of every grid.
type MatsubaraConfig struct {
	Fermionic   int `yaml:"fermionic"`
	Bosonic     int `yaml:"bosonic"`
	TwoParticle int `yaml:"twoParticle"`
}

type ComputeConfig struct {
	GF             bool   `yaml:"gf"`
	Susceptibility bool   `yaml:"susceptibility"`
	TwoParticleGF  bool   `yaml:"twoParticleGF"`
	ThreePoint     bool   `yaml:"threePoint"`
	Channel        string `yaml:"channel"`
	ClearTerms     bool   `yaml:"clearTerms"`
}

type TolerancesConfig struct {
	MatrixElement   float64 `yaml:"matrixElement"`
	ReduceResonance float64 `yaml:"reduceResonance"`
	Reduce          float64 `yaml:"reduce"`
	Coefficient     float64 `yaml:"coefficient"`
	// DensityMatrix marks blocks with smaller weights as not retained. Zero keeps every block.
	DensityMatrix float64 `yaml:"densityMatrix"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrap(err, path)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: ModelHubbardAtom,
			U:    1,
			Mu:   0.5,
		},
		Beta:  10,
		Ranks: 1,
		Matsubara: MatsubaraConfig{
			Fermionic:   32,
			Bosonic:     16,
			TwoParticle: 4,
		},
		Compute: ComputeConfig{
			GF:             true,
			Susceptibility: true,
			Channel:        threepoint.PP.String(),
		},
		Tolerances: TolerancesConfig{
			MatrixElement:   1e-8,
			ReduceResonance: 1e-8,
			Reduce:          1e-8,
			Coefficient:     1e-16,
		},
		Store:  "pomerol.db",
		RunDir: "runs",
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("POMEROL_BETA"); v != "" {
		beta, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "POMEROL_BETA")
		}
		cfg.Beta = beta
	}
	if v := os.Getenv("POMEROL_RANKS"); v != "" {
		ranks, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "POMEROL_RANKS")
		}
		cfg.Ranks = ranks
	}
	if v := os.Getenv("POMEROL_RUN_DIR"); v != "" {
		cfg.RunDir = v
	}
	if v := os.Getenv("POMEROL_METRICS"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "POMEROL_METRICS")
		}
		cfg.Metrics = on
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Beta <= 0 {
		return errors.Errorf("beta %f", c.Beta)
	}
	if c.Ranks < 1 {
		return errors.Errorf("%d ranks", c.Ranks)
	}
	if !slices.Contains(models, c.Model.Name) {
		return errors.Errorf("unknown model %q, expected one of %v", c.Model.Name, models)
	}
	if c.Model.Name == ModelAnderson && len(c.Model.Levels) != len(c.Model.Hoppings) {
		return errors.Errorf("%d bath levels, %d hoppings", len(c.Model.Levels), len(c.Model.Hoppings))
	}
	m := c.Matsubara
	if m.Fermionic < 0 || m.Bosonic < 0 || m.TwoParticle < 0 {
		return errors.Errorf("negative grid %#v", m)
	}
	if c.Compute.ThreePoint {
		if _, err := threepoint.ParseChannel(c.Compute.Channel); err != nil {
			return errors.Wrap(err, "")
		}
	}
	tol := c.Tolerances
	for name, v := range map[string]float64{
		"matrixElement":   tol.MatrixElement,
		"reduceResonance": tol.ReduceResonance,
		"reduce":          tol.Reduce,
		"coefficient":     tol.Coefficient,
		"densityMatrix":   tol.DensityMatrix,
	} {
		if v < 0 {
			return errors.Errorf("negative tolerance %s %g", name, v)
		}
	}
	if c.BosonBits != 0 && len(c.IndexBits) != 0 {
		return errors.Errorf("bosonBits %d together with indexBits %v", c.BosonBits, c.IndexBits)
	}
	return nil
}

func (c *Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%#v", *c)
	}
	return string(b)
}
