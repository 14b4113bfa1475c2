package host

import (
	"fmt"
	"sync"
)

// arenaBase and pageSize shape synthetic addresses so they look like, and
// compare like, real object pointers.
const (
	arenaBase uintptr = 0x10000
	pageSize  uintptr = 0x1000
)

// Arena hands out stable synthetic addresses. Allocation is sequential, so
// the same construction order always yields the same addresses and traces are
// reproducible.
type Arena struct {
	mu   sync.Mutex
	next uintptr
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{next: arenaBase}
}

func (a *Arena) alloc() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.next
	a.next += pageSize
	return addr
}

// Object is a named host object with a stable address.
type Object struct {
	addr uintptr
	name string
}

// AsPointer returns the object's address.
func (o *Object) AsPointer() uintptr { return o.addr }

// Name returns the object's display name.
func (o *Object) Name() string { return o.name }

func (o *Object) String() string { return fmt.Sprintf("%s@%#x", o.name, o.addr) }

// Object allocates a plain named object (preferences, 3D view, region view).
func (a *Arena) Object(name string) *Object {
	return &Object{addr: a.alloc(), name: name}
}

// Scene is editable scene data: lights and output resolution.
type Scene struct {
	Object

	mu     sync.RWMutex
	lights int
	width  int
	height int
}

// Scene allocates a scene.
func (a *Arena) Scene(name string, width, height, lights int) *Scene {
	return &Scene{
		Object: Object{addr: a.alloc(), name: name},
		width:  width,
		height: height,
		lights: lights,
	}
}

func (s *Scene) Lights() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lights
}

func (s *Scene) Resolution() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// SetLights edits the light count.
func (s *Scene) SetLights(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights = n
}

// SetResolution edits the output resolution.
func (s *Scene) SetResolution(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
}

// Depsgraph is the evaluated state of a scene. It reads through to the scene
// it evaluates.
type Depsgraph struct {
	Object
	scene *Scene
}

// Depsgraph allocates an evaluation graph for scene.
func (a *Arena) Depsgraph(name string, scene *Scene) *Depsgraph {
	return &Depsgraph{Object: Object{addr: a.alloc(), name: name}, scene: scene}
}

func (d *Depsgraph) Lights() int                     { return d.scene.Lights() }
func (d *Depsgraph) Resolution() (width, height int) { return d.scene.Resolution() }

// Scene returns the evaluated scene.
func (d *Depsgraph) Scene() *Scene { return d.scene }

// Region is a viewport area with a pixel size.
type Region struct {
	Object
	width  int
	height int
}

// Region allocates a viewport region.
func (a *Arena) Region(name string, width, height int) *Region {
	return &Region{Object: Object{addr: a.alloc(), name: name}, width: width, height: height}
}

func (r *Region) Size() (width, height int) { return r.width, r.height }

// Viewport bundles the three objects of an interactive 3D viewport.
type Viewport struct {
	Region       *Region
	View3D       *Object
	RegionView3D *Object
}

// Viewport allocates a region of the given size plus its 3D view objects.
func (a *Arena) Viewport(width, height int) *Viewport {
	return &Viewport{
		Region:       a.Region("Region", width, height),
		View3D:       a.Object("View3D"),
		RegionView3D: a.Object("RegionView3D"),
	}
}
