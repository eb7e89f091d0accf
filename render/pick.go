package render

import "github.com/hupe1980/segvis/segid"

// Pick identifies what was drawn under a pixel.
type Pick struct {
	Layer string
	ID    segid.ID
}

// PickRegistry assigns per-frame pick values. Value 0 means nothing.
type PickRegistry struct {
	entries []Pick
	index   map[Pick]uint32
}

// Reset forgets every registration.
func (p *PickRegistry) Reset() {
	p.entries = p.entries[:0]
	clear(p.index)
}

// Register returns the pick value of (layer, id), allocating one on first
// use in the frame.
func (p *PickRegistry) Register(layer string, id segid.ID) uint32 {
	if p.index == nil {
		p.index = make(map[Pick]uint32)
	}
	k := Pick{Layer: layer, ID: id}
	if v, ok := p.index[k]; ok {
		return v
	}
	p.entries = append(p.entries, k)
	v := uint32(len(p.entries))
	p.index[k] = v
	return v
}

// Lookup reverse-maps a pick value.
func (p *PickRegistry) Lookup(v uint32) (Pick, bool) {
	if v == 0 || int(v) > len(p.entries) {
		return Pick{}, false
	}
	return p.entries[v-1], true
}

// Len returns the number of registered values.
func (p *PickRegistry) Len() int { return len(p.entries) }
