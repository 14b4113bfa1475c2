package engine

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// HostObject is any host-owned object that can cross into the renderer.
// AsPointer returns the object's stable address; zero means "no object".
type HostObject interface {
	AsPointer() uintptr
}

// RefKind tags what an OpaqueRef points at.
type RefKind uint8

const (
	RefAbsent RefKind = iota
	RefEngine
	RefPreferences
	RefSceneData
	RefDependencyGraph
	RefRegion
	RefView3D
	RefRegionView3D
)

var refKindNames = [...]string{
	RefAbsent:          "absent",
	RefEngine:          "engine",
	RefPreferences:     "preferences",
	RefSceneData:       "scene_data",
	RefDependencyGraph: "dependency_graph",
	RefRegion:          "region",
	RefView3D:          "view3d",
	RefRegionView3D:    "region_view3d",
}

func (k RefKind) String() string {
	if int(k) < len(refKindNames) {
		return refKindNames[k]
	}
	return fmt.Sprintf("ref_kind(%d)", k)
}

// CallScope bounds the lifetime of every OpaqueRef marshaled for one renderer
// call. The session opens a scope right before the call and closes it as soon
// as the call returns; refs held past that point stop resolving.
type CallScope struct {
	op     string
	closed atomic.Bool
}

// NewCallScope opens a scope for a single renderer call.
func NewCallScope(op string) *CallScope {
	return &CallScope{op: op}
}

// Close ends the scope. Closing twice is harmless.
func (s *CallScope) Close() {
	s.closed.Store(true)
}

// Open reports whether refs marshaled in this scope may still be used.
func (s *CallScope) Open() bool {
	return s != nil && !s.closed.Load()
}

// Op returns the renderer call this scope was opened for.
func (s *CallScope) Op() string {
	if s == nil {
		return ""
	}
	return s.op
}

// OpaqueRef is a call-scoped token for a host object. It holds no ownership:
// the host keeps the object alive, and the token only resolves while its scope
// is open.
type OpaqueRef struct {
	kind  RefKind
	addr  uintptr
	obj   HostObject
	scope *CallScope
}

// Absent is the sentinel for a missing optional object (e.g. no viewport
// during a background render).
var Absent = OpaqueRef{}

// Marshal turns a host object into an OpaqueRef bound to scope.
// No copy is made and no ownership moves. A nil object, a typed nil pointer or
// an object reporting address zero yields Absent.
func Marshal(scope *CallScope, kind RefKind, obj HostObject) OpaqueRef {
	if isNil(obj) {
		return Absent
	}
	addr := obj.AsPointer()
	if addr == 0 {
		return Absent
	}
	return OpaqueRef{kind: kind, addr: addr, obj: obj, scope: scope}
}

// IsLive reports whether ref may be dereferenced right now.
// Absent refs are never live.
func IsLive(ref OpaqueRef) bool {
	return !ref.IsAbsent() && ref.scope.Open()
}

// IsAbsent reports whether ref is the absent sentinel.
func (r OpaqueRef) IsAbsent() bool { return r.addr == 0 }

// Kind returns the ref's kind; RefAbsent for the sentinel.
func (r OpaqueRef) Kind() RefKind {
	if r.IsAbsent() {
		return RefAbsent
	}
	return r.kind
}

// Addr returns the address-equivalent token. Stable for the object's lifetime.
func (r OpaqueRef) Addr() uintptr { return r.addr }

// Object borrows the referenced host object. It fails once the call that
// received the ref has returned.
func (r OpaqueRef) Object() (HostObject, bool) {
	if !IsLive(r) {
		return nil, false
	}
	return r.obj, true
}

// Label names the referenced object for logs and traces. Objects that
// implement Name() string are labeled by name, others by address.
func (r OpaqueRef) Label() string {
	if r.IsAbsent() {
		return "absent"
	}
	if n, ok := r.obj.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%#x", r.addr)
}

func (r OpaqueRef) String() string {
	if r.IsAbsent() {
		return "absent"
	}
	return fmt.Sprintf("%s@%#x", r.kind, r.addr)
}

// isNil catches both a nil interface and an interface wrapping a nil pointer.
func isNil(obj HostObject) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
