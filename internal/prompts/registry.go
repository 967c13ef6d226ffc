package prompts

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// PromptRegistry holds prompts by ID and version.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string][]*Prompt
}

var (
	defaultRegistry     *PromptRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry is where the built-in prompts register themselves.
func DefaultRegistry() *PromptRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewPromptRegistry()
	})
	return defaultRegistry
}

func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{prompts: make(map[string][]*Prompt)}
}

// Register adds p, replacing an earlier registration of the same version.
func (r *PromptRegistry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.prompts[p.ID]
	for i, existing := range versions {
		if existing.Version == p.Version {
			versions[i] = p
			return
		}
	}
	r.prompts[p.ID] = append(versions, p)
}

// Get returns one exact version of a prompt.
func (r *PromptRegistry) Get(id string, version PromptVersion) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.prompts[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for _, p := range versions {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("prompt %s version %s not found", id, version)
}

// GetLatest returns the highest non-deprecated version of a prompt, or the
// highest version when every one is deprecated.
func (r *PromptRegistry) GetLatest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.prompts[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}

	var latest, latestAny *Prompt
	for _, p := range versions {
		if latestAny == nil || p.Version.Compare(latestAny.Version) > 0 {
			latestAny = p
		}
		if !p.Deprecated && (latest == nil || p.Version.Compare(latest.Version) > 0) {
			latest = p
		}
	}
	if latest == nil {
		return latestAny, nil
	}
	return latest, nil
}

// Compare orders dotted numeric versions component by component, so 10.0.0
// is above 2.0.0. Missing components count as 0; non-numeric ones compare
// as strings.
func (v PromptVersion) Compare(other PromptVersion) int {
	a := strings.Split(string(v), ".")
	b := strings.Split(string(other), ".")
	for i := 0; i < max(len(a), len(b)); i++ {
		x, y := "0", "0"
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		xn, errX := strconv.Atoi(x)
		yn, errY := strconv.Atoi(y)
		if errX != nil || errY != nil {
			if c := strings.Compare(x, y); c != 0 {
				return c
			}
			continue
		}
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		}
	}
	return 0
}
