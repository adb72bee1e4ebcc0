package messaging

import "slices"

// SourceStore yields the package names enabled for forwarding. It is read on
// every decision because the list can be edited at any time.
type SourceStore interface {
	EnabledSources() []string
}

// SourceStoreFunc adapts a function to SourceStore.
type SourceStoreFunc func() []string

func (f SourceStoreFunc) EnabledSources() []string { return f() }

// Filter decides whether a notification from sourceID is forwarded.
type Filter struct {
	sources SourceStore
}

func NewFilter(sources SourceStore) Filter {
	return Filter{sources: sources}
}

// Allow reports whether sourceID is currently enabled.
func (f Filter) Allow(sourceID string) bool {
	if f.sources == nil || sourceID == "" {
		return false
	}
	return slices.Contains(f.sources.EnabledSources(), sourceID)
}
