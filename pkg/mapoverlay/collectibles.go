package mapoverlay

import "sync/atomic"

// Collectible is a marker positioned in detection-space pixels, per
// spec.md's resolution of its own Open Question (collectible
// coordinates are detection-space, not reference-map space).
type Collectible struct {
	DetX, DetY float64
	Category   string
	PayloadRef string
}

// Collectibles holds an immutable list of markers behind an atomically
// swappable pointer, so reload_collectibles (spec.md §6) never blocks
// or races with a concurrent in-view filter pass.
type Collectibles struct {
	list atomic.Pointer[[]Collectible]
}

// NewCollectibles constructs a holder with an initial list, which may
// be empty.
func NewCollectibles(initial []Collectible) *Collectibles {
	c := &Collectibles{}
	c.Reload(initial)
	return c
}

// Reload atomically swaps in a new list. Per spec.md's testable
// property, a concurrent reader either sees the old list in full or
// the new list in full, never a mix.
func (c *Collectibles) Reload(list []Collectible) {
	snapshot := make([]Collectible, len(list))
	copy(snapshot, list)
	c.list.Store(&snapshot)
}

// All returns the currently active list. The returned slice must not
// be mutated by the caller.
func (c *Collectibles) All() []Collectible {
	p := c.list.Load()
	if p == nil {
		return nil
	}
	return *p
}

// InView filters the active collectibles list to those inside the
// given detection-space viewport and transforms each surviving point
// into source-image pixels via t.DetPointToScreen, per spec.md §4.I's
// "collectibles_in_view already transformed into source-image pixel
// space" output contract. crop, wSrc, hSrc describe the source capture
// that v was matched against.
func (c *Collectibles) InView(v Viewport, t *CoordTransform, crop, wSrc, hSrc float64) []CollectibleInView {
	var out []CollectibleInView
	for _, item := range c.All() {
		if item.DetX < v.X || item.DetX > v.X+v.W || item.DetY < v.Y || item.DetY > v.Y+v.H {
			continue
		}
		sx, sy := t.DetPointToScreen(item.DetX, item.DetY, v, crop, wSrc, hSrc)
		out = append(out, CollectibleInView{
			ScreenX:    sx,
			ScreenY:    sy,
			Category:   item.Category,
			PayloadRef: item.PayloadRef,
		})
	}
	return out
}
