package basket

// OfferRef identifies the offer consuming line quantity. Exclusive offers
// cannot share a unit with any other offer.
type OfferRef struct {
	ID        int64
	Exclusive bool
}

// consumer tracks how much of a line each offer has used. affected is the
// number of units touched by any offer; per-offer counts may overlap when
// the offers involved are all combinable.
type consumer struct {
	quantity    func() int
	affected    int
	offers      map[int64]OfferRef
	consumption map[int64]int
}

func newConsumer(quantity func() int) *consumer {
	return &consumer{
		quantity:    quantity,
		offers:      make(map[int64]OfferRef),
		consumption: make(map[int64]int),
	}
}

func (c *consumer) consume(qty int, ref *OfferRef) {
	if qty <= 0 {
		return
	}
	if ref != nil {
		// availability must be read before affected moves
		available := c.available(ref)
		c.offers[ref.ID] = *ref
		c.consumption[ref.ID] += min(available, qty)
	}
	free := c.quantity() - c.affected
	c.affected += min(free, qty)
}

func (c *consumer) consumed(ref *OfferRef) int {
	if ref == nil {
		return c.affected
	}
	return c.consumption[ref.ID]
}

// available is the quantity ref may still use. Once an exclusive offer is
// involved on either side, units touched by any offer are gone.
func (c *consumer) available(ref *OfferRef) int {
	qty := c.quantity()
	if ref == nil || ref.Exclusive {
		return max(qty-c.affected, 0)
	}
	for id, other := range c.offers {
		if id != ref.ID && other.Exclusive && c.consumption[id] > 0 {
			return max(qty-c.affected, 0)
		}
	}
	return max(qty-c.consumption[ref.ID], 0)
}

func (c *consumer) consumers() []OfferRef {
	var out []OfferRef
	for id, ref := range c.offers {
		if c.consumption[id] > 0 {
			out = append(out, ref)
		}
	}
	return out
}
