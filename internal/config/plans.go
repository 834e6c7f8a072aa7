package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
)

// Unlimited marks a plan limit that is never enforced.
const Unlimited int64 = -1

type PlanLimits struct {
	Users             int64 `mapstructure:"users" json:"users"`
	Locations         int64 `mapstructure:"locations" json:"locations"`
	APICallsPerDay    int64 `mapstructure:"api_calls_per_day" json:"api_calls_per_day"`
	AIRepliesPerMonth int64 `mapstructure:"ai_replies_per_month" json:"ai_replies_per_month"`
	ReviewsPerMonth   int64 `mapstructure:"reviews_per_month" json:"reviews_per_month"`
	StorageMB         int64 `mapstructure:"storage_mb" json:"storage_mb"`
}

type PlanDefinition struct {
	Code         string     `mapstructure:"code"`
	Name         string     `mapstructure:"name"`
	Description  string     `mapstructure:"description"`
	MonthlyPrice int64      `mapstructure:"monthly_price"`
	AnnualPrice  int64      `mapstructure:"annual_price"`
	Currency     string     `mapstructure:"currency"`
	Disabled     bool       `mapstructure:"disabled"`
	Limits       PlanLimits `mapstructure:"limits"`
	Features     []string   `mapstructure:"features"`
}

type PlanCatalogConfig struct {
	Plans []PlanDefinition `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalogConfig {
	return PlanCatalogConfig{
		Plans: []PlanDefinition{
			{
				Code:         "free",
				Name:         "Free",
				MonthlyPrice: 0,
				AnnualPrice:  0,
				Currency:     "JPY",
				Limits: PlanLimits{
					Users:             1,
					Locations:         1,
					APICallsPerDay:    100,
					AIRepliesPerMonth: 20,
					ReviewsPerMonth:   50,
					StorageMB:         100,
				},
				Features: []string{"review_management", "manual_reply"},
			},
			{
				Code:         "basic",
				Name:         "Basic",
				MonthlyPrice: 4900,
				AnnualPrice:  49000,
				Currency:     "JPY",
				Limits: PlanLimits{
					Users:             3,
					Locations:         3,
					APICallsPerDay:    1000,
					AIRepliesPerMonth: 100,
					ReviewsPerMonth:   200,
					StorageMB:         1024,
				},
				Features: []string{"review_management", "ai_reply", "line_notification"},
			},
			{
				Code:         "pro",
				Name:         "Pro",
				MonthlyPrice: 14900,
				AnnualPrice:  149000,
				Currency:     "JPY",
				Limits: PlanLimits{
					Users:             10,
					Locations:         10,
					APICallsPerDay:    10000,
					AIRepliesPerMonth: 500,
					ReviewsPerMonth:   1000,
					StorageMB:         10240,
				},
				Features: []string{"review_management", "ai_reply", "line_notification", "custom_tone", "analytics"},
			},
			{
				Code:         "enterprise",
				Name:         "Enterprise",
				MonthlyPrice: 49900,
				AnnualPrice:  499000,
				Currency:     "JPY",
				Limits: PlanLimits{
					Users:             Unlimited,
					Locations:         50,
					APICallsPerDay:    Unlimited,
					AIRepliesPerMonth: 2500,
					ReviewsPerMonth:   5000,
					StorageMB:         102400,
				},
				Features: []string{"review_management", "ai_reply", "line_notification", "custom_tone", "analytics", "priority_support", "custom_integration"},
			},
		},
	}
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalogConfig
}

// NewPlanCatalogHolder loads plans.yml when one exists and keeps it hot-reloaded.
// Without a file the built-in catalog is served.
func NewPlanCatalogHolder(cfg Config) (*PlanCatalogHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.Usage.PlanCatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/concierge/config")
		v.AddConfigPath("/etc/concierge")
		v.AddConfigPath(".")
	}

	holder := &PlanCatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		holder.current.Store(DefaultPlanCatalog())
		return holder, nil
	}

	catalog, err := decodePlanCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlanCatalog(v)
		if err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", filepath.Base(e.Name))
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder serves a fixed catalog.
func NewStaticPlanCatalogHolder(catalog PlanCatalogConfig) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(normalizePlanCatalog(catalog))
	return holder
}

func (h *PlanCatalogHolder) Get() PlanCatalogConfig {
	if h == nil {
		return DefaultPlanCatalog()
	}
	catalog, ok := h.current.Load().(PlanCatalogConfig)
	if !ok {
		return DefaultPlanCatalog()
	}
	return catalog
}

func decodePlanCatalog(v *viper.Viper) (PlanCatalogConfig, error) {
	var catalog PlanCatalogConfig
	if err := v.Unmarshal(&catalog); err != nil {
		return PlanCatalogConfig{}, fmt.Errorf("decode plan catalog: %w", err)
	}
	catalog = normalizePlanCatalog(catalog)
	if err := validatePlanCatalog(catalog); err != nil {
		return PlanCatalogConfig{}, err
	}
	return catalog, nil
}

func normalizePlanCatalog(catalog PlanCatalogConfig) PlanCatalogConfig {
	plans := make([]PlanDefinition, 0, len(catalog.Plans))
	for _, p := range catalog.Plans {
		raw := strings.TrimSpace(p.Code)
		p.Code = slug.Make(raw)
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			p.Name = raw
		}
		p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		plans = append(plans, p)
	}
	return PlanCatalogConfig{Plans: plans}
}

func validatePlanCatalog(catalog PlanCatalogConfig) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(catalog.Plans))
	for _, p := range catalog.Plans {
		if p.Code == "" {
			return errors.New("plan code is required")
		}
		if _, ok := seen[p.Code]; ok {
			return fmt.Errorf("duplicate plan code %q", p.Code)
		}
		seen[p.Code] = struct{}{}
		if p.MonthlyPrice < 0 || p.AnnualPrice < 0 {
			return fmt.Errorf("plan %q has a negative price", p.Code)
		}
		if err := validateLimit(p.Code, "users", p.Limits.Users); err != nil {
			return err
		}
		if err := validateLimit(p.Code, "locations", p.Limits.Locations); err != nil {
			return err
		}
		if err := validateLimit(p.Code, "api_calls_per_day", p.Limits.APICallsPerDay); err != nil {
			return err
		}
		if err := validateLimit(p.Code, "ai_replies_per_month", p.Limits.AIRepliesPerMonth); err != nil {
			return err
		}
		if err := validateLimit(p.Code, "reviews_per_month", p.Limits.ReviewsPerMonth); err != nil {
			return err
		}
		if err := validateLimit(p.Code, "storage_mb", p.Limits.StorageMB); err != nil {
			return err
		}
	}
	return nil
}

func validateLimit(code, name string, value int64) error {
	if value < Unlimited {
		return fmt.Errorf("plan %q: %s must be -1 or non-negative", code, name)
	}
	return nil
}
