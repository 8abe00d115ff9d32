package model

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ServiceCall is a side-effecting command addressed to a hub service,
// e.g. {domain: "light", service: "turn_on", target: {entity_id: "light.kitchen"}}.
// On the wire it becomes a "call_service" command.
type ServiceCall struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
	Target      map[string]any `json:"target,omitempty"`
}

// Validate checks that the call names a domain and a service.
func (c ServiceCall) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Domain, validation.Required, validation.Length(1, 64), validation.Match(slugPattern)),
		validation.Field(&c.Service, validation.Required, validation.Length(1, 128), validation.Match(slugPattern)),
	)
}

// Fields returns the command-specific wire fields of a call_service command.
func (c ServiceCall) Fields() map[string]any {
	fields := map[string]any{
		"domain":  c.Domain,
		"service": c.Service,
	}
	if len(c.ServiceData) > 0 {
		fields["service_data"] = c.ServiceData
	}
	if len(c.Target) > 0 {
		fields["target"] = c.Target
	}
	return fields
}

// String returns "domain.service".
func (c ServiceCall) String() string {
	return c.Domain + "." + c.Service
}
