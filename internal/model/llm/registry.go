package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

// ErrModelNotFound is returned when a model key is not registered.
var ErrModelNotFound = errors.New("model not found")

// preferredDefault mirrors the model the chat page selects first.
const preferredDefault = "openrouter-v3"

// Registry resolves model keys. It is immutable after construction and
// safe for concurrent use.
type Registry struct {
	items      []ModelSpec
	defaultKey string
}

// NewRegistry returns a Registry over the supplied models. defaultKey may
// be empty.
func NewRegistry(items []ModelSpec, defaultKey string) *Registry {
	return &Registry{
		items:      append([]ModelSpec(nil), items...),
		defaultKey: strings.TrimSpace(defaultKey),
	}
}

// List returns the models visible to a scope. The public tier only sees
// free models.
func (r *Registry) List(scope chat.Scope) []ModelSpec {
	result := make([]ModelSpec, 0, len(r.items))
	for _, item := range r.items {
		if scope.IsAdmin() || item.IsFree {
			result = append(result, item)
		}
	}
	return result
}

// Find looks up a model by key regardless of scope.
func (r *Registry) Find(key string) (ModelSpec, bool) {
	for _, item := range r.items {
		if item.Key == key {
			return item, true
		}
	}
	return ModelSpec{}, false
}

// Resolve looks up a model by key and checks the scope may use it.
func (r *Registry) Resolve(key string, scope chat.Scope) (ModelSpec, error) {
	spec, ok := r.Find(key)
	if !ok || (!scope.IsAdmin() && !spec.IsFree) {
		return ModelSpec{}, fmt.Errorf("%w: %s", ErrModelNotFound, key)
	}
	return spec, nil
}

// Default picks the model a new conversation starts with.
func (r *Registry) Default(scope chat.Scope) (ModelSpec, bool) {
	visible := r.List(scope)
	if len(visible) == 0 {
		return ModelSpec{}, false
	}
	if r.defaultKey != "" {
		for _, item := range visible {
			if item.Key == r.defaultKey {
				return item, true
			}
		}
	}
	for _, item := range visible {
		if strings.Contains(item.Key, preferredDefault) {
			return item, true
		}
	}
	return visible[0], true
}

// Merge returns a new Registry where entries replace models with the same
// key and unknown keys are appended.
func (r *Registry) Merge(entries []ModelSpec) *Registry {
	merged := append([]ModelSpec(nil), r.items...)
	for _, entry := range entries {
		replaced := false
		for i := range merged {
			if merged[i].Key == entry.Key {
				merged[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, entry)
		}
	}
	return NewRegistry(merged, r.defaultKey)
}

type modelsFile struct {
	Models []ModelSpec `toml:"models"`
}

// LoadFile reads [[models]] tables from a TOML file.
func LoadFile(path string) ([]ModelSpec, error) {
	var file modelsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode models file %s: %w", path, err)
	}

	for i, item := range file.Models {
		if err := validate(item); err != nil {
			return nil, fmt.Errorf("models file %s entry %d: %w", path, i, err)
		}
		if file.Models[i].Name == "" {
			file.Models[i].Name = item.Key
		}
		if file.Models[i].ShortName == "" {
			file.Models[i].ShortName = file.Models[i].Name
		}
	}
	return file.Models, nil
}

func validate(spec ModelSpec) error {
	if strings.TrimSpace(spec.Key) == "" {
		return errors.New("key is required")
	}
	if strings.TrimSpace(spec.ModelID) == "" {
		return errors.New("model_id is required")
	}
	switch spec.Provider {
	case ProviderArk, ProviderGemini, ProviderDeepSeek, ProviderOpenRouter:
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", spec.Provider)
	}
}
