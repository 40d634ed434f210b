package reactivation

import (
	"fmt"
	"sync"

	"github.com/leadpilot/internal/apperr"
)

// Quota bounds concurrent runs: limit per tenant and one per lead
type Quota struct {
	limit int

	mu      sync.Mutex
	tenants map[int64]int
	leads   map[string]bool
}

func NewQuota(limit int) *Quota {
	if limit <= 0 {
		limit = 10
	}
	return &Quota{limit: limit, tenants: make(map[int64]int), leads: make(map[string]bool)}
}

// Acquire reserves a slot for the lead. The returned func releases it and is
// safe to call more than once.
func (q *Quota) Acquire(tenantID int64, leadID string) (func(), error) {
	key := fmt.Sprintf("%d|%s", tenantID, leadID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leads[key] {
		return nil, apperr.E(apperr.KindConflict, "reactivation.quota", fmt.Errorf("a run for lead %s is already in progress", leadID))
	}
	if q.tenants[tenantID] >= q.limit {
		return nil, apperr.E(apperr.KindConflict, "reactivation.quota", fmt.Errorf("tenant %d reached %d concurrent runs", tenantID, q.limit))
	}
	q.leads[key] = true
	q.tenants[tenantID]++

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.leads, key)
			q.tenants[tenantID]--
			if q.tenants[tenantID] <= 0 {
				delete(q.tenants, tenantID)
			}
		})
	}, nil
}

// InFlight returns the number of running runs of a tenant
func (q *Quota) InFlight(tenantID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tenants[tenantID]
}
