// Package preset provides named experiment setups: a grid, an agent and an experiment config.
// Presets are built in or loaded from YAML or HCL files.
package preset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gridsim/grid_world"
	"gridsim/models"
)

// Preset is a complete, validated experiment setup.
type Preset struct {
	Name       string                  `json:"name"`
	Grid       models.GridConfig       `json:"grid"`
	Agent      models.AgentConfig      `json:"agent_config"`
	Experiment models.ExperimentConfig `json:"experiment_config"`
}

// definition is a preset as written in a file, before validation. Exactly one of Track, Rows
// and Cells selects the grid; unset agent and experiment fields take the engine defaults.
type definition struct {
	Name  string
	Track string
	Rows  []string
	Cells [][]int

	AgentType    *string
	LearningRate *float64
	Discount     *float64
	Epsilon      *float64
	Episodes     *int
	MaxSteps     *int
}

func (def definition) build() (Preset, error) {
	if def.Name == "" {
		return Preset{}, fmt.Errorf("%w: preset without name", models.ErrConfigInvalid)
	}

	grid, err := def.grid()
	if err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", def.Name, err)
	}

	agent := models.DefaultAgentConfig()
	if def.AgentType != nil {
		if agent.Kind, err = models.ParseAgentKind(*def.AgentType); err != nil {
			return Preset{}, fmt.Errorf("preset %s: %w", def.Name, err)
		}
	}
	setIf(&agent.LearningRate, def.LearningRate)
	setIf(&agent.Discount, def.Discount)
	setIf(&agent.Epsilon, def.Epsilon)
	if err = agent.Validate(); err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", def.Name, err)
	}

	experiment := models.DefaultExperimentConfig()
	setIf(&experiment.Episodes, def.Episodes)
	setIf(&experiment.MaxSteps, def.MaxSteps)
	if err = experiment.Validate(); err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", def.Name, err)
	}

	return Preset{
		Name:       def.Name,
		Grid:       grid,
		Agent:      agent,
		Experiment: experiment,
	}, nil
}

func (def definition) grid() (models.GridConfig, error) {
	sources := 0
	for _, set := range []bool{def.Track != "", len(def.Rows) > 0, len(def.Cells) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return models.GridConfig{}, fmt.Errorf("%w: exactly one of track, rows or cells is required", models.ErrConfigInvalid)
	}

	switch {
	case def.Track != "":
		return grid_world.Track(def.Track)
	case len(def.Rows) > 0:
		return grid_world.Convert(def.Rows)
	default:
		return models.GridFromCodes(def.Cells)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Catalog is a concurrency-safe set of presets by name.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewCatalog returns a catalog holding the passed presets. Later presets replace earlier ones
// of the same name.
func NewCatalog(presets ...Preset) *Catalog {
	catalog := &Catalog{presets: make(map[string]Preset)}
	catalog.Add(presets...)
	return catalog
}

// Builtins returns a catalog of the built-in presets.
func Builtins() *Catalog {
	return NewCatalog(builtins()...)
}

func builtins() []Preset {
	mustTrack := func(name string) models.GridConfig {
		grid, err := grid_world.Track(name)
		if err != nil {
			panic(err)
		}
		return grid
	}
	return []Preset{
		{
			Name:       "initial",
			Grid:       mustTrack("initial"),
			Agent:      models.DefaultAgentConfig(),
			Experiment: models.DefaultExperimentConfig(),
		},
		{
			Name: "cliff",
			Grid: mustTrack("cliff"),
			Agent: models.AgentConfig{
				Kind:         models.Q_LEARNING,
				LearningRate: 0.5,
				Discount:     1.0,
				Epsilon:      0.1,
			},
			Experiment: models.ExperimentConfig{Episodes: 500, MaxSteps: 100},
		},
		{
			Name:       "debug",
			Grid:       mustTrack("debug"),
			Agent:      models.DefaultAgentConfig(),
			Experiment: models.ExperimentConfig{Episodes: 10, MaxSteps: 20},
		},
	}
}

// Add inserts or replaces presets.
func (catalog *Catalog) Add(presets ...Preset) {
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	for _, p := range presets {
		catalog.presets[strings.ToLower(p.Name)] = p
	}
}

// Get returns the named preset, case-insensitively.
func (catalog *Catalog) Get(name string) (Preset, error) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()

	p, ok := catalog.presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: unknown preset %q", models.ErrConfigInvalid, name)
	}
	return p, nil
}

// Names returns the preset names, sorted.
func (catalog *Catalog) Names() []string {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()

	names := make([]string, 0, len(catalog.presets))
	for _, p := range catalog.presets {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// LoadFiles adds the presets of every file; the format follows the extension (.yaml, .yml, .hcl).
func (catalog *Catalog) LoadFiles(paths ...string) error {
	for _, path := range paths {
		presets, err := LoadFile(path)
		if err != nil {
			return err
		}
		catalog.Add(presets...)
	}
	return nil
}

// LoadFile reads the presets of a single file.
func LoadFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}

	var presets []Preset
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		presets, err = ParseYAML(data)
	case ".hcl":
		presets, err = ParseHCL(data, path)
	default:
		return nil, fmt.Errorf("unsupported preset file type %q: %s", ext, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return presets, nil
}

func buildAll(defs []definition) ([]Preset, error) {
	presets := make([]Preset, 0, len(defs))
	for _, def := range defs {
		p, err := def.build()
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, nil
}
