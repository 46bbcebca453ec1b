package providers

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// DefaultTimeout applies to descriptors that declare none.
const DefaultTimeout = 10 * time.Second

// ErrDuplicateProvider is returned when an id is registered twice.
var ErrDuplicateProvider = errors.New("provider already registered")

var providerIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("providerid", func(fl validator.FieldLevel) bool {
		return providerIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Registry is the process-wide table of provider descriptors. Built-in and
// file-loaded providers are both added through Register.
type Registry struct {
	mu             sync.RWMutex
	providers      map[string]hydro.ProviderDescriptor
	defaultTimeout time.Duration
}

// NewRegistry creates an empty Registry. A non-positive defaultTimeout
// falls back to DefaultTimeout.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		providers:      make(map[string]hydro.ProviderDescriptor),
		defaultTimeout: defaultTimeout,
	}
}

// NewDefaultRegistry creates a Registry holding the built-in providers.
func NewDefaultRegistry(defaultTimeout time.Duration) (*Registry, error) {
	r := NewRegistry(defaultTimeout)
	for _, desc := range Builtin() {
		if err := r.Register(desc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a descriptor.
func (r *Registry) Register(desc hydro.ProviderDescriptor) error {
	if err := validate.Struct(desc); err != nil {
		return fmt.Errorf("invalid provider %q: %w", desc.ID, err)
	}
	if desc.Timeout == 0 {
		desc.Timeout = r.defaultTimeout
	}
	desc.FallbackRegions = cloneStrings(desc.FallbackRegions)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[desc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, desc.ID)
	}
	r.providers[desc.ID] = desc
	return nil
}

// Describe returns the descriptor registered under id.
func (r *Registry) Describe(id string) (hydro.ProviderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.providers[id]
	if !ok {
		return hydro.ProviderDescriptor{}, fmt.Errorf("%w: %q", hydro.ErrUnknownProvider, id)
	}
	desc.FallbackRegions = cloneStrings(desc.FallbackRegions)
	return desc, nil
}

// List returns all descriptors ordered by id.
func (r *Registry) List() []hydro.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]hydro.ProviderDescriptor, 0, len(r.providers))
	for _, desc := range r.providers {
		desc.FallbackRegions = cloneStrings(desc.FallbackRegions)
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
