package service

import (
	"fmt"
	"sort"

	"github.com/okian/kpisync/internal/config"
	"github.com/okian/kpisync/internal/domain/model"
)

// IntegrationResolver maps (tenant, integration key) to an upstream target.
type IntegrationResolver interface {
	Integration(tenantID, key string) (model.Integration, error)
}

// TenantDirectory resolves integrations from the configured tenants.
type TenantDirectory struct {
	tenants map[string]config.Tenant
}

// NewTenantDirectory creates a resolver over the tenants block of the config.
func NewTenantDirectory(tenants map[string]config.Tenant) *TenantDirectory {
	return &TenantDirectory{tenants: tenants}
}

func (d *TenantDirectory) Integration(tenantID, key string) (model.Integration, error) {
	t, ok := d.tenants[tenantID]
	if !ok {
		return model.Integration{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	in, ok := t.Integrations[key]
	if !ok {
		return model.Integration{}, fmt.Errorf("%w: %s/%s", ErrUnknownIntegration, tenantID, key)
	}
	return model.Integration{
		TenantID:    tenantID,
		Key:         key,
		LocationID:  in.LocationID,
		Token:       in.Token,
		AgencyToken: in.AgencyToken,
		CompanyID:   in.CompanyID,
	}, nil
}

// TenantIDs lists configured tenants in order.
func (d *TenantDirectory) TenantIDs() []string {
	ids := make([]string, 0, len(d.tenants))
	for id := range d.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
