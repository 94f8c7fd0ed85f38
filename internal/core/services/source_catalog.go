package services

import (
	"fmt"
	"sort"
	"sync"

	"sidescreen/internal/core/domain"
)

// SourceCatalog holds the descriptors of display surfaces that are ready to
// be captured. The display subsystem registers and removes them.
type SourceCatalog struct {
	mu      sync.RWMutex
	sources map[domain.SourceID]domain.FrameSourceDescriptor
}

func NewSourceCatalog() *SourceCatalog {
	return &SourceCatalog{sources: make(map[domain.SourceID]domain.FrameSourceDescriptor)}
}

func (c *SourceCatalog) Register(desc domain.FrameSourceDescriptor) error {
	if desc.ID == "" {
		return domain.NewError("register_source", domain.KindInvalidConfig, "source id is required", nil)
	}
	if desc.Bounds.Empty() {
		return domain.NewError("register_source", domain.KindInvalidConfig,
			fmt.Sprintf("source %s has empty bounds", desc.ID), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[desc.ID] = desc
	return nil
}

func (c *SourceCatalog) Remove(id domain.SourceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sources[id]; !ok {
		return false
	}
	delete(c.sources, id)
	return true
}

func (c *SourceCatalog) Get(id domain.SourceID) (domain.FrameSourceDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.sources[id]
	return desc, ok
}

func (c *SourceCatalog) List() []domain.FrameSourceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]domain.FrameSourceDescriptor, 0, len(c.sources))
	for _, desc := range c.sources {
		list = append(list, desc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
