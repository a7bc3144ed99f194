package action

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Parameter keys understood by the built-in types.
const (
	ParamVersion      = "version"
	ParamDelaySeconds = "delay_seconds"
)

const maxParams = 32

// ParamValidator checks and may normalise the parameters of one action type.
// It returns the parameters to store.
type ParamValidator func(Params) (Params, error)

// Definition describes one action type.
type Definition struct {
	Type     Type
	Required []string
	Validate ParamValidator
}

// Catalogue is the set of action types the ledger accepts.
// It is safe for concurrent use.
type Catalogue struct {
	mu   sync.RWMutex
	defs map[Type]Definition
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{defs: make(map[Type]Definition)}
}

// DefaultCatalogue returns a catalogue holding SOFTWARE_UPDATE and REBOOT.
func DefaultCatalogue() *Catalogue {
	c := NewCatalogue()
	c.Register(Definition{
		Type:     TypeSoftwareUpdate,
		Required: []string{ParamVersion},
		Validate: validateSoftwareUpdate,
	})
	c.Register(Definition{
		Type:     TypeReboot,
		Validate: validateReboot,
	})
	return c
}

// Register adds or replaces a definition.
func (c *Catalogue) Register(def Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.Type] = def
}

// Types lists registered types in sorted order.
func (c *Catalogue) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := slices.Collect(maps.Keys(c.defs))
	slices.Sort(types)
	return types
}

// Has reports whether t is registered.
func (c *Catalogue) Has(t Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[t]
	return ok
}

// Validate checks params against the definition of t and returns the
// parameters to store. All failures wrap ErrInvalidArgument.
func (c *Catalogue) Validate(t Type, params Params) (Params, error) {
	c.mu.RLock()
	def, ok := c.defs[t]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown action_type %q", ErrInvalidArgument, t)
	}
	if len(params) > maxParams {
		return nil, fmt.Errorf("%w: too many params (max %d)", ErrInvalidArgument, maxParams)
	}
	for _, key := range def.Required {
		if params[key] == "" {
			return nil, fmt.Errorf("%w: %s requires param %q", ErrInvalidArgument, t, key)
		}
	}

	out := maps.Clone(params)
	if def.Validate != nil {
		var err error
		if out, err = def.Validate(out); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, t, err)
		}
	}
	return out, nil
}

// validateSoftwareUpdate requires a semantic version and stores it in
// canonical form, so "v2.0" becomes "2.0.0".
func validateSoftwareUpdate(p Params) (Params, error) {
	v, err := semver.NewVersion(p[ParamVersion])
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", p[ParamVersion], err)
	}
	p[ParamVersion] = v.String()
	return p, nil
}

func validateReboot(p Params) (Params, error) {
	raw, ok := p[ParamDelaySeconds]
	if !ok {
		return p, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("delay_seconds %q must be a non-negative integer", raw)
	}
	return p, nil
}
