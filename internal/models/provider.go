package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor roles carried in bearer tokens.
const (
	RoleProvider = "provider"
	RoleBuyer    = "buyer"
	RoleOperator = "operator"
	RoleService  = "service"
)

// Provider holds the work preferences a provider opted into. Empty slices mean
// "everything".
type Provider struct {
	ID          uuid.UUID `json:"id"`
	ActionTypes []string  `json:"action_types"`
	Platforms   []string  `json:"platforms"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Accepts reports whether the provider opted into the platform/action pair.
func (p *Provider) Accepts(platform, actionType string) bool {
	return containsOrEmpty(p.Platforms, platform) && containsOrEmpty(p.ActionTypes, actionType)
}

func containsOrEmpty(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
