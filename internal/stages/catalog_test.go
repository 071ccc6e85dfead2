package stages

import (
	"os"
	"path/filepath"
	"testing"

	"salesboard/internal/domain"
)

func TestDefaultCatalogOrderAndWeights(t *testing.T) {
	c := Default()

	names := c.Names()
	if names[0] != "Lead In" || names[len(names)-1] != Lost {
		t.Fatalf("unexpected stage order: %v", names)
	}
	if got := c.Probability("Negotiation"); got != 80 {
		t.Fatalf("expected Negotiation probability 80, got %d", got)
	}
	if !c.IsTerminal(Won) || !c.IsTerminal(Lost) || c.IsTerminal("Lead In") {
		t.Fatalf("terminal flags are wrong")
	}
	if len(c.Intermediate()) != 5 {
		t.Fatalf("expected 5 intermediate stages, got %v", c.Intermediate())
	}
	if c.First() != "Lead In" {
		t.Fatalf("expected first stage Lead In, got %s", c.First())
	}
}

func TestStatusForStage(t *testing.T) {
	c := Default()
	if c.StatusFor(Won) != domain.LeadStatusWon {
		t.Fatalf("Won must map to WON")
	}
	if c.StatusFor(Lost) != domain.LeadStatusLost {
		t.Fatalf("Lost must map to LOST")
	}
	if c.StatusFor("Proposal Made") != domain.LeadStatusActive {
		t.Fatalf("intermediate stage must map to ACTIVE")
	}
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	cases := map[string][]Stage{
		"empty":       nil,
		"duplicate":   {{Name: "A"}, {Name: "A"}, {Name: Won}, {Name: Lost}},
		"missing won": {{Name: "A"}, {Name: Lost}},
		"probability": {{Name: "A", Probability: 120}, {Name: Won}, {Name: Lost}},
		"blank name":  {{Name: " "}, {Name: Won}, {Name: Lost}},
		"terminal":    {{Name: "A"}, {Name: "Archived", Terminal: true}, {Name: Won}, {Name: Lost}},
	}
	for name, list := range cases {
		if _, err := New(list); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	body := []byte(`stages:
  - name: Qualified
    probability: 25
  - name: Demo
    probability: 50
  - name: Won
    probability: 100
  - name: Lost
    probability: 0
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.First() != "Qualified" || c.Probability("Demo") != 50 {
		t.Fatalf("unexpected catalog: %+v", c.Stages())
	}
	if !c.IsTerminal(Won) {
		t.Fatalf("Won must be terminal even when the file omits the flag")
	}
}
