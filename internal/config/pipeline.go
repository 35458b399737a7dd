package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pipeline maps a current status to the statuses it may move to. Cascade maps
// an order status to the status its lines should follow.
type Pipeline struct {
	Order    map[string][]string `yaml:"order"`
	Line     map[string][]string `yaml:"line"`
	Cascade  map[string]string   `yaml:"cascade"`
	Partners []PartnerConfig     `yaml:"partners"`
}

// PartnerConfig selects the pricing and availability policies for a partner.
type PartnerConfig struct {
	ID           int64  `yaml:"id"`
	Name         string `yaml:"name"`
	Pricing      string `yaml:"pricing"`
	TaxRate      string `yaml:"tax_rate"`
	Availability string `yaml:"availability"`
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		Order: map[string][]string{
			"Pending":         {"Being processed", "Cancelled"},
			"Being processed": {"Complete", "Cancelled"},
			"Cancelled":       {},
			"Complete":        {},
		},
		Line: map[string][]string{
			"Pending":         {"Being processed", "Cancelled"},
			"Being processed": {"Shipped", "Cancelled"},
			"Shipped":         {},
			"Cancelled":       {},
		},
		Cascade: map[string]string{
			"Being processed": "Being processed",
			"Cancelled":       "Cancelled",
			"Complete":        "Shipped",
		},
	}
}

// LoadPipeline reads the pipeline file, or returns the defaults when path is
// empty.
func LoadPipeline(path string) (Pipeline, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline file %q: %w", path, err)
	}

	var p Pipeline
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline file %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, fmt.Errorf("pipeline file %q: %w", path, err)
	}
	return p, nil
}

// Validate checks that every target status is itself a pipeline key and that
// cascaded line statuses exist in the line pipeline.
func (p Pipeline) Validate() error {
	for from, targets := range p.Order {
		for _, to := range targets {
			if _, ok := p.Order[to]; !ok {
				return fmt.Errorf("order status %q lists unknown target %q", from, to)
			}
		}
	}
	for from, targets := range p.Line {
		for _, to := range targets {
			if _, ok := p.Line[to]; !ok {
				return fmt.Errorf("line status %q lists unknown target %q", from, to)
			}
		}
	}
	for orderStatus, lineStatus := range p.Cascade {
		if _, ok := p.Order[orderStatus]; !ok {
			return fmt.Errorf("cascade references unknown order status %q", orderStatus)
		}
		if _, ok := p.Line[lineStatus]; !ok {
			return fmt.Errorf("cascade references unknown line status %q", lineStatus)
		}
	}
	seen := make(map[int64]bool, len(p.Partners))
	for _, partner := range p.Partners {
		if seen[partner.ID] {
			return fmt.Errorf("duplicate partner id %d", partner.ID)
		}
		seen[partner.ID] = true
	}
	return nil
}
