package order

import (
	"slices"

	"github.com/django-oscar/django-oscar-sub003/internal/config"
)

// Pipeline holds the allowed status transitions for orders and lines and the
// order-to-line cascade. It is built once and never mutated.
type Pipeline struct {
	order   map[string][]string
	line    map[string][]string
	cascade map[string]string
}

func NewPipeline(cfg config.Pipeline) *Pipeline {
	p := &Pipeline{
		order:   make(map[string][]string, len(cfg.Order)),
		line:    make(map[string][]string, len(cfg.Line)),
		cascade: make(map[string]string, len(cfg.Cascade)),
	}
	for k, v := range cfg.Order {
		p.order[k] = slices.Clone(v)
	}
	for k, v := range cfg.Line {
		p.line[k] = slices.Clone(v)
	}
	for k, v := range cfg.Cascade {
		p.cascade[k] = v
	}
	return p
}

func (p *Pipeline) AvailableOrderStatuses(current string) []string {
	return slices.Clone(p.order[current])
}

func (p *Pipeline) AvailableLineStatuses(current string) []string {
	return slices.Clone(p.line[current])
}

// Cascade returns the line status that follows an order status, if any.
func (p *Pipeline) Cascade(orderStatus string) (string, bool) {
	s, ok := p.cascade[orderStatus]
	return s, ok
}

func (p *Pipeline) orderAllows(current, next string) bool {
	return slices.Contains(p.order[current], next)
}

func (p *Pipeline) lineAllows(current, next string) bool {
	return slices.Contains(p.line[current], next)
}
