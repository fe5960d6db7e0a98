package channels

import (
	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

// Registry maps channels to their adapters. Registration order within a
// channel is the default failover order; tenant provider config overrides it.
type Registry struct {
	byChannel map[models.Channel][]Adapter
	byName    map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		byChannel: map[models.Channel][]Adapter{},
		byName:    map[string]Adapter{},
	}
}

func (r *Registry) Register(a Adapter) {
	r.byChannel[a.Channel()] = append(r.byChannel[a.Channel()], a)
	r.byName[a.Name()] = a
}

// ByName looks an adapter up for callback routing.
func (r *Registry) ByName(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// For returns the ordered adapter chain for one channel, honouring the
// tenant's primary/fallback configuration when present.
func (r *Registry) For(ch models.Channel, settings *models.TenantSettings) ([]Adapter, error) {
	registered := r.byChannel[ch]
	if len(registered) == 0 {
		return nil, errors.NewValidationError("no provider registered for channel " + string(ch))
	}

	pair, ok := settings.ProvidersFor(ch)
	if !ok {
		return registered, nil
	}

	var chain []Adapter
	for _, name := range []string{pair.Primary, pair.Fallback} {
		if name == "" {
			continue
		}
		if a, found := r.byName[name]; found && a.Channel() == ch {
			chain = append(chain, a)
		}
	}
	if len(chain) == 0 {
		// Misconfigured tenant falls back to the registered defaults.
		return registered, nil
	}
	return chain, nil
}
