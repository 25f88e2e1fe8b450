package service

import (
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"xsell/database/model"
	"xsell/util/common"
)

// Trial accounts get a fixed allowance; the catalog only describes paid
// plans.
const (
	TrialQuotaGB  = 1.0
	TrialDuration = 24 * time.Hour
	TrialPurpose  = "trial"
	TrialProtocol = model.VLESS
)

// Plan is one paid offering from the TOML catalog.
type Plan struct {
	Id           string         `toml:"id"`
	Name         string         `toml:"name"`
	QuotaGB      float64        `toml:"quota_gb"`
	DurationDays int            `toml:"duration_days"`
	Protocol     model.Protocol `toml:"protocol"`
}

type planCatalog struct {
	Plans []Plan `toml:"plans"`
}

// PlanService loads and serves the plan catalog. The catalog is data
// entry owned by the admin side; the engine only reads it.
type PlanService struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// Load parses the catalog file and replaces the in-memory set. Plans with
// a missing id or non-positive quota are rejected as a whole, keeping the
// previous set.
func (s *PlanService) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var catalog planCatalog
	if err := toml.Unmarshal(data, &catalog); err != nil {
		return err
	}

	plans := make(map[string]Plan, len(catalog.Plans))
	for _, p := range catalog.Plans {
		if p.Id == "" {
			return common.NewError("plan catalog: plan without id")
		}
		if p.QuotaGB <= 0 {
			return common.NewErrorf("plan catalog: plan %q has non-positive quota", p.Id)
		}
		if p.DurationDays <= 0 {
			return common.NewErrorf("plan catalog: plan %q has non-positive duration", p.Id)
		}
		if p.Protocol == "" {
			p.Protocol = model.VLESS
		}
		if _, dup := plans[p.Id]; dup {
			return common.NewErrorf("plan catalog: duplicate plan id %q", p.Id)
		}
		plans[p.Id] = p
	}

	s.mu.Lock()
	s.plans = plans
	s.mu.Unlock()
	return nil
}

// GetPlan returns the plan with the given id, or an error if unknown.
func (s *PlanService) GetPlan(id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, common.NewErrorf("unknown plan %q", id)
	}
	return &p, nil
}

// AllPlans returns the loaded catalog.
func (s *PlanService) AllPlans() []Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out
}
