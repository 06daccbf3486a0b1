package diffusion

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ModelCache pins model versions per worker so repeated jobs on the same
// model skip the catalog lookup. Entries stay resident until Clear.
type ModelCache struct {
	mu     sync.Mutex
	client Client
	models map[string]string // model name -> owner/name:version
}

func NewModelCache(client Client) *ModelCache {
	return &ModelCache{
		client: client,
		models: make(map[string]string),
	}
}

// Resolve returns the pinned ref for a model, looking up the latest
// published version on first use when the configured ref carries none.
func (c *ModelCache) Resolve(ctx context.Context, name, ref string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pinned, ok := c.models[name]; ok {
		return pinned, nil
	}

	pinned := ref
	if !strings.Contains(ref, ":") {
		owner, modelName, ok := strings.Cut(ref, "/")
		if !ok {
			return "", fmt.Errorf("diffusion: malformed model ref %q", ref)
		}

		model, err := c.client.GetModel(ctx, owner, modelName)
		if err != nil {
			return "", fmt.Errorf("diffusion: resolve model %s: %w", name, err)
		}
		if model.LatestVersion == nil {
			return "", fmt.Errorf("diffusion: model %s has no published version", name)
		}

		pinned = ref + ":" + model.LatestVersion.ID
	}

	c.models[name] = pinned
	return pinned, nil
}

// Clear evicts every pinned model.
func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = make(map[string]string)
}

// Len reports how many models are currently pinned.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}
