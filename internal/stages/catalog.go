// Package stages holds the ordered pipeline stage catalog and each stage's
// win-probability weight. A catalog never changes after construction.
package stages

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"salesboard/internal/domain"
)

const (
	Won  = "Won"
	Lost = "Lost"
)

type Stage struct {
	Name        string `yaml:"name" json:"name"`
	Probability int    `yaml:"probability" json:"probability"`
	Terminal    bool   `yaml:"terminal" json:"terminal"`
}

type Catalog struct {
	stages []Stage
	index  map[string]int
}

func Default() *Catalog {
	c, err := New([]Stage{
		{Name: "Lead In", Probability: 10},
		{Name: "Contact Made", Probability: 20},
		{Name: "Needs Defined", Probability: 40},
		{Name: "Proposal Made", Probability: 60},
		{Name: "Negotiation", Probability: 80},
		{Name: Won, Probability: 100, Terminal: true},
		{Name: Lost, Probability: 0, Terminal: true},
	})
	if err != nil {
		panic(err)
	}
	return c
}

func New(list []Stage) (*Catalog, error) {
	if len(list) == 0 {
		return nil, errors.New("stage catalog is empty")
	}

	c := &Catalog{
		stages: make([]Stage, 0, len(list)),
		index:  make(map[string]int, len(list)),
	}
	for _, st := range list {
		st.Name = strings.TrimSpace(st.Name)
		if st.Name == "" {
			return nil, errors.New("stage name is required")
		}
		if _, dup := c.index[st.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", st.Name)
		}
		if st.Probability < 0 || st.Probability > 100 {
			return nil, fmt.Errorf("stage %q: probability %d out of range", st.Name, st.Probability)
		}
		switch {
		case st.Name == Won || st.Name == Lost:
			st.Terminal = true
		case st.Terminal:
			return nil, fmt.Errorf("stage %q: only %q and %q are terminal", st.Name, Won, Lost)
		}
		c.index[st.Name] = len(c.stages)
		c.stages = append(c.stages, st)
	}

	for _, required := range []string{Won, Lost} {
		if _, ok := c.index[required]; !ok {
			return nil, fmt.Errorf("stage catalog must contain %q", required)
		}
	}
	return c, nil
}

// LoadFile reads a catalog from YAML:
//
//	stages:
//	  - name: Lead In
//	    probability: 10
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage catalog: %w", err)
	}

	var doc struct {
		Stages []Stage `yaml:"stages"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse stage catalog: %w", err)
	}
	return New(doc.Stages)
}

func (c *Catalog) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.stages))
	for _, st := range c.stages {
		names = append(names, st.Name)
	}
	return names
}

// Intermediate lists the non-terminal stages in board order.
func (c *Catalog) Intermediate() []string {
	names := make([]string, 0, len(c.stages))
	for _, st := range c.stages {
		if !st.Terminal {
			names = append(names, st.Name)
		}
	}
	return names
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (c *Catalog) Probability(name string) int {
	i, ok := c.index[name]
	if !ok {
		return 0
	}
	return c.stages[i].Probability
}

func (c *Catalog) IsTerminal(name string) bool {
	i, ok := c.index[name]
	return ok && c.stages[i].Terminal
}

// First is the stage new leads enter.
func (c *Catalog) First() string {
	intermediate := c.Intermediate()
	if len(intermediate) == 0 {
		return c.stages[0].Name
	}
	return intermediate[0]
}

func (c *Catalog) StatusFor(stage string) domain.LeadStatus {
	switch stage {
	case Won:
		return domain.LeadStatusWon
	case Lost:
		return domain.LeadStatusLost
	default:
		return domain.LeadStatusActive
	}
}
