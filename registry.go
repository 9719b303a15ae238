package xstream

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// StageFactory constructs a Subscriber from a config blob.
type StageFactory func(cfg map[string]any) (Subscriber, error)

var (
	stageRegistryMu sync.RWMutex
	stageRegistry   = map[string]StageFactory{}
)

// RegisterStage makes a stage available to Topology by name.
func RegisterStage(name string, factory StageFactory) error {
	if name == "" {
		return errors.New("stage name must not be empty")
	}
	if factory == nil {
		return errors.New("stage factory must not be nil")
	}
	stageRegistryMu.Lock()
	stageRegistry[name] = factory
	stageRegistryMu.Unlock()
	return nil
}

// NewStage constructs a registered stage by name with config.
func NewStage(name string, cfg map[string]any) (Subscriber, error) {
	stageRegistryMu.RLock()
	f, ok := stageRegistry[name]
	stageRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stage %q not registered", ErrConfiguration, name)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	sub, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: stage %q: %w", ErrConfiguration, name, err)
	}
	return sub, nil
}

// Stages lists registered stage names, sorted.
func Stages() []string {
	stageRegistryMu.RLock()
	defer stageRegistryMu.RUnlock()
	names := make([]string, 0, len(stageRegistry))
	for n := range stageRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
