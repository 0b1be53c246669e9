package widget

import "sync"

// Point is a pointer position in window coordinates.
type Point struct {
	X, Y int
}

// Region is an axis-aligned rectangle occupied by a piece of the widget.
type Region struct {
	X, Y, Width, Height int
}

// Contains reports whether p falls inside r.
func (r Region) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

type watcher struct {
	regions  []Region
	callback func()
}

// Outside detects pointer interactions outside registered regions. The shell
// owns one and hands it to dropdown-style components.
type Outside struct {
	mu       sync.Mutex
	next     int
	watchers map[int]watcher
}

// NewOutside returns an Outside with no watchers.
func NewOutside() *Outside {
	return &Outside{watchers: make(map[int]watcher)}
}

// Watch registers callback to run whenever a point lands outside every one of
// regions. The returned release removes the registration and is safe to call
// more than once.
func (o *Outside) Watch(callback func(), regions ...Region) (release func()) {
	o.mu.Lock()
	id := o.next
	o.next++
	o.watchers[id] = watcher{regions: append([]Region(nil), regions...), callback: callback}
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watchers, id)
			o.mu.Unlock()
		})
	}
}

// Dispatch delivers a pointer-down at p. Callbacks run outside the lock, so
// they may release their own registration.
func (o *Outside) Dispatch(p Point) {
	o.mu.Lock()
	var hit []func()
	for _, w := range o.watchers {
		if missesAll(w.regions, p) {
			hit = append(hit, w.callback)
		}
	}
	o.mu.Unlock()

	for _, fn := range hit {
		fn()
	}
}

// Active reports how many registrations are live.
func (o *Outside) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.watchers)
}

// Reset drops every registration. Called when the shell unmounts.
func (o *Outside) Reset() {
	o.mu.Lock()
	o.watchers = make(map[int]watcher)
	o.mu.Unlock()
}

func missesAll(regions []Region, p Point) bool {
	for _, r := range regions {
		if r.Contains(p) {
			return false
		}
	}
	return true
}
