package rhi

import "sync/atomic"

// destroyer is implemented by reference-counted objects to release their
// native resources once the last reference is gone.
type destroyer interface {
	destroy()
}

// refCounted is embedded by every object whose native resources are released
// deterministically rather than by the garbage collector.
//
// Two counts are maintained. The public count tracks handles held by user
// code via AddRef/Release. The total count additionally includes internal
// owners: device state, caches, sub-object lists and strong BreakableRef
// holders. When the public count reaches zero the zeroPublic hook runs
// (used to break a known device/resource reference cycle); when the total
// count reaches zero the object's destroy method runs.
type refCounted struct {
	refs   atomic.Int64 // total references: public handles plus internal owners
	public atomic.Int64 // references held by user code

	self       destroyer
	zeroPublic func()
}

// initRef must be called exactly once, before the object is shared.
// The new object starts with one public reference owned by the caller.
func (r *refCounted) initRef(self destroyer, zeroPublic func()) {
	r.refs.Store(1)
	r.public.Store(1)
	r.self = self
	r.zeroPublic = zeroPublic
}

// AddRef acquires an additional public reference.
func (r *refCounted) AddRef() {
	r.public.Add(1)
	r.retain()
}

// Release drops a public reference. When the last public reference is gone
// the object breaks any reference cycle it is known to participate in; when
// the last reference overall is gone its native resources are destroyed.
func (r *refCounted) Release() {
	if r.public.Add(-1) == 0 && r.zeroPublic != nil {
		r.zeroPublic()
	}
	r.release()
}

// retain acquires an internal reference.
func (r *refCounted) retain() { r.refs.Add(1) }

// release drops an internal reference, destroying the object when it was
// the last one.
func (r *refCounted) release() {
	if r.refs.Add(-1) == 0 && r.self != nil {
		r.self.destroy()
	}
}

// counted is the constraint for BreakableRef targets.
type counted interface {
	comparable
	retain()
	release()
}

// BreakableRef holds either a strong owning reference or a weak non-owning
// reference to a target, never both.
//
// Objects created from a Device hold a strong reference back to the device
// that created them, while the device may in turn hold strong references to
// objects it tracks as current state. Both sides staying strong is
// intentional: it makes teardown robust against arbitrary release ordering.
// The cycle is broken when one side's public reference count reaches zero,
// at which point that side demotes its reference to weak via BreakStrong,
// letting the normal teardown order complete.
//
// Demote only where a cycle is statically known to exist. Breaking the
// strong reference unconditionally can free the target while the holder is
// still being destroyed and still needs it; that misuse is undefined.
//
// Dereference always resolves through the weak identity regardless of the
// current mode, so callers never need to know whether the reference is
// currently strong.
type BreakableRef[T counted] struct {
	strong T // retained while owning; zero otherwise
	weak   T
	owns   bool
}

// Set stores target and acquires ownership of it.
func (b *BreakableRef[T]) Set(target T) {
	var zero T
	if target != zero {
		target.retain()
	}
	b.dropStrong()
	b.weak = target
	if target != zero {
		b.strong = target
		b.owns = true
	}
}

// SetWeak stores target without acquiring ownership, releasing any
// ownership currently held.
func (b *BreakableRef[T]) SetWeak(target T) {
	b.dropStrong()
	b.weak = target
}

// Get returns the referenced target, strong or not.
func (b *BreakableRef[T]) Get() T { return b.weak }

// BreakStrong releases ownership without changing the observable target.
func (b *BreakableRef[T]) BreakStrong() { b.dropStrong() }

// EstablishStrong re-acquires ownership of the currently referenced target,
// reversing an earlier BreakStrong. The target must still be alive.
func (b *BreakableRef[T]) EstablishStrong() {
	var zero T
	if b.owns || b.weak == zero {
		return
	}
	b.weak.retain()
	b.strong = b.weak
	b.owns = true
}

func (b *BreakableRef[T]) dropStrong() {
	if !b.owns {
		return
	}
	var zero T
	b.strong.release()
	b.strong = zero
	b.owns = false
}
