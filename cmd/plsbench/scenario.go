package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/pls"
	"github.com/gogpu/pls/flush"
)

// Scenario describes the synthetic frames a run submits.
type Scenario struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"` // empty selects the best registered backend

	Width     int  `yaml:"width"`
	Height    int  `yaml:"height"`
	ReadWrite bool `yaml:"readWrite"` // target can be bound as a storage image

	Frames          int    `yaml:"frames"`
	FlushesPerFrame int    `yaml:"flushesPerFrame"`
	Interlock       string `yaml:"interlock"`
	Load            string `yaml:"load"`

	Batches         int `yaml:"batches"`
	PatchesPerBatch int `yaml:"patchesPerBatch"`
	Groups          int `yaml:"groups"`    // overlap groups the batches cycle through
	Gradients       int `yaml:"gradients"` // gradient spans per flush

	FramesInFlight int `yaml:"framesInFlight"`
	RetireLag      int `yaml:"retireLag"`   // frames the simulated GPU trails the CPU
	PooledRings    int `yaml:"pooledRings"` // pool size; zero keeps rotating rings
}

func defaultScenario() Scenario {
	return Scenario{
		Name:            "default",
		Width:           256,
		Height:          256,
		ReadWrite:       true,
		Frames:          120,
		FlushesPerFrame: 2,
		Interlock:       flush.RasterOrdering.String(),
		Load:            flush.LoadClear.String(),
		Batches:         8,
		PatchesPerBatch: 64,
		Groups:          2,
		Gradients:       4,
		FramesInFlight:  pls.DefaultMaxFramesInFlight,
	}
}

// LoadScenario decodes a YAML scenario. Fields the document omits keep
// their defaults; unknown fields are an error.
func LoadScenario(r io.Reader) (Scenario, error) {
	sc := defaultScenario()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("plsbench: decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// LoadScenarioFile reads a scenario from path.
func LoadScenarioFile(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("plsbench: %w", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// Validate checks counts and mode names.
func (sc *Scenario) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"width", sc.Width},
		{"height", sc.Height},
		{"frames", sc.Frames},
		{"flushesPerFrame", sc.FlushesPerFrame},
		{"framesInFlight", sc.FramesInFlight},
		{"groups", sc.Groups},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("plsbench: %s must be positive, got %d", p.name, p.v)
		}
	}
	nonNegative := []struct {
		name string
		v    int
	}{
		{"batches", sc.Batches},
		{"patchesPerBatch", sc.PatchesPerBatch},
		{"gradients", sc.Gradients},
		{"retireLag", sc.RetireLag},
		{"pooledRings", sc.PooledRings},
	}
	for _, p := range nonNegative {
		if p.v < 0 {
			return fmt.Errorf("plsbench: %s must not be negative, got %d", p.name, p.v)
		}
	}
	if _, err := parseInterlock(sc.Interlock); err != nil {
		return err
	}
	if _, err := parseLoad(sc.Load); err != nil {
		return err
	}
	return nil
}

func parseInterlock(s string) (flush.InterlockMode, error) {
	for _, m := range []flush.InterlockMode{flush.RasterOrdering, flush.Atomics, flush.ClockwiseAtomic} {
		if s == m.String() {
			return m, nil
		}
	}
	return 0, fmt.Errorf("plsbench: unknown interlock mode %q", s)
}

func parseLoad(s string) (flush.LoadAction, error) {
	for _, a := range []flush.LoadAction{flush.LoadClear, flush.LoadPreserveRenderTarget, flush.LoadDontCare} {
		if s == a.String() {
			return a, nil
		}
	}
	return 0, fmt.Errorf("plsbench: unknown load action %q", s)
}
