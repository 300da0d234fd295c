package vulkan

// registry hands out the opaque handles the engine sees for driver objects. Handles are never
// reused within a Backend's lifetime, so a stale handle misses instead of aliasing.
type registry[T any] struct {
	next    uint64
	objects map[uint64]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{objects: map[uint64]T{}}
}

func (r *registry[T]) add(obj T) uint64 {
	r.next++
	r.objects[r.next] = obj
	return r.next
}

func (r *registry[T]) get(handle uint64) T {
	return r.objects[handle]
}

func (r *registry[T]) remove(handle uint64) (T, bool) {
	obj, ok := r.objects[handle]
	if ok {
		delete(r.objects, handle)
	}
	return obj, ok
}

func (r *registry[T]) len() int {
	return len(r.objects)
}
