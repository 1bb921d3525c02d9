// Package channels delivers rendered notifications over a closed set of
// media. Adapters are resolved once at startup into a Registry.
package channels

import (
	"context"
	"fmt"

	"eventhub/internal/engine/realtime"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	Email    Kind = "email"
	SMS      Kind = "sms"
	WhatsApp Kind = "whatsapp"
	Push     Kind = "push"
	InApp    Kind = "in_app"
)

var Kinds = []Kind{Email, SMS, WhatsApp, Push, InApp}

func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Result is what a provider reported for one send. Delivered is true only
// when the provider confirmed delivery, otherwise the message is just sent.
type Result struct {
	Success    bool
	Delivered  bool
	ExternalID string
	Response   map[string]interface{}
}

// Adapter sends one notification. A returned error is a failed attempt.
type Adapter interface {
	Kind() Kind
	Send(ctx context.Context, n *models.Notification) (*Result, error)
}

type Registry struct {
	adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) Get(kind Kind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// Lookup resolves a channel name as stored on configs and notifications.
func (r *Registry) Lookup(name string) (Adapter, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", name)
	}
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("channel %q is not enabled", name)
	}
	return a, nil
}

func (r *Registry) IsActive(name string) bool {
	kind, ok := ParseKind(name)
	if !ok {
		return false
	}
	_, ok = r.adapters[kind]
	return ok
}

// Active lists enabled channels in declaration order.
func (r *Registry) Active() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		if _, ok := r.adapters[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Build creates an adapter for every enabled channel. Adapters without
// provider credentials run in simulate mode.
func Build(cfg config.ChannelsConfig, domains config.DomainsConfig, broadcaster realtime.Broadcaster) *Registry {
	client := newProviderClient(cfg.Timeout)

	var adapters []Adapter
	if cfg.Email.Enabled {
		adapters = append(adapters, NewEmailAdapter(cfg.Email.SMTP))
	}
	if cfg.SMS.Enabled {
		adapters = append(adapters, NewSMSAdapter(cfg.SMS, client))
	}
	if cfg.WhatsApp.Enabled {
		adapters = append(adapters, NewWhatsAppAdapter(cfg.WhatsApp, client))
	}
	if cfg.Push.Enabled {
		adapters = append(adapters, NewPushAdapter(cfg.Push, domains.AppDomain, client))
	}
	if cfg.InApp.Enabled {
		adapters = append(adapters, NewInAppAdapter(broadcaster))
	}

	registry := NewRegistry(adapters...)
	log.Info().Interface("channels", registry.Active()).Msg("Notification channels ready")
	return registry
}

func simulated(kind Kind, n *models.Notification) *Result {
	log.Info().
		Str("channel", string(kind)).
		Str("notification_id", n.ID).
		Msg("Provider not configured, simulating send")
	return &Result{
		Success:    true,
		ExternalID: fmt.Sprintf("sim_%s_%s", kind, n.ID),
		Response:   map[string]interface{}{"simulated": true, "channel": string(kind)},
	}
}

// truncate caps s at max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
