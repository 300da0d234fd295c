package pipeline

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/framegraph/gpu"
)

type cacheKey struct {
	name   string
	target Target
}

// Cache builds registered descriptions on first use per target and rebuilds them when the
// target's generation moves on.
type Cache struct {
	device       *gpu.Device
	descriptions map[string]Description
	states       map[cacheKey]*State

	builds   int
	rebuilds int
}

func NewCache(device *gpu.Device) *Cache {
	return &Cache{
		device:       device,
		descriptions: map[string]Description{},
		states:       map[cacheKey]*State{},
	}
}

// Register adds or replaces a description. Pipelines already built from an older
// description under the same name are destroyed.
func (c *Cache) Register(desc Description) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if _, ok := c.descriptions[desc.Name]; ok {
		for key, state := range c.states {
			if key.name == desc.Name {
				state.Destroy()
				delete(c.states, key)
			}
		}
	}
	c.descriptions[desc.Name] = desc
	return nil
}

func (c *Cache) Registered(name string) bool {
	_, ok := c.descriptions[name]
	return ok
}

// Get returns the pipeline named name for target, building or rebuilding it as needed.
func (c *Cache) Get(name string, target Target) (*State, error) {
	key := cacheKey{name: name, target: target}
	if state, ok := c.states[key]; ok {
		if state.Compatible(target) {
			return state, nil
		}

		c.device.Logger().Debug("pipeline stale, rebuilding",
			"pipeline", name, "built", state.Generation(), "current", target.Generation())
		if err := state.Rebuild(target); err != nil {
			delete(c.states, key)
			return nil, err
		}
		c.rebuilds++
		return state, nil
	}

	desc, ok := c.descriptions[name]
	if !ok {
		return nil, errors.AssertionFailedf("pipeline %q is not registered", name)
	}

	state, err := Create(c.device, desc, target)
	if err != nil {
		return nil, err
	}
	c.states[key] = state
	c.builds++
	return state, nil
}

// Forget destroys every pipeline built for target, typically before the target itself is
// destroyed.
func (c *Cache) Forget(target Target) {
	for key, state := range c.states {
		if key.target == target {
			state.Destroy()
			delete(c.states, key)
		}
	}
}

func (c *Cache) Builds() int {
	return c.builds
}

func (c *Cache) Rebuilds() int {
	return c.rebuilds
}

func (c *Cache) Destroy() {
	for key, state := range c.states {
		state.Destroy()
		delete(c.states, key)
	}
}
