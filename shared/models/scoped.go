package models

import "github.com/google/uuid"

// Accessors satisfying store.TenantOwned for the entities managed through
// the tenant-scoped store.

func (t *Task) GetTenantID() uuid.UUID   { return t.TenantID }
func (t *Task) SetTenantID(id uuid.UUID) { t.TenantID = id }

func (p *Project) GetTenantID() uuid.UUID   { return p.TenantID }
func (p *Project) SetTenantID(id uuid.UUID) { p.TenantID = id }

func (a *Automation) GetTenantID() uuid.UUID   { return a.TenantID }
func (a *Automation) SetTenantID(id uuid.UUID) { a.TenantID = id }

func (n *Notification) GetTenantID() uuid.UUID   { return n.TenantID }
func (n *Notification) SetTenantID(id uuid.UUID) { n.TenantID = id }
