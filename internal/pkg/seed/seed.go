// Package seed loads companies and their plans from a YAML file and upserts
// them by name. ${VAR} references are expanded from the environment so
// credentials can stay out of the file.
package seed

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/app/repository"
	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

type File struct {
	Companies []Company `yaml:"companies"`
}

type Company struct {
	Name       string     `yaml:"name"`
	Controller Controller `yaml:"controller"`
	Gateway    Gateway    `yaml:"gateway"`
	Callback   Callback   `yaml:"callback"`
	Plans      []Plan     `yaml:"plans"`
}

type Controller struct {
	Kind     string `yaml:"kind"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type Gateway struct {
	Provider          string `yaml:"provider"`
	BaseURL           string `yaml:"base_url"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	SubscriptionKey   string `yaml:"subscription_key"`
	TargetEnvironment string `yaml:"target_environment"`
	Country           string `yaml:"country"`
	Currency          string `yaml:"currency"`
	CallbackURL       string `yaml:"callback_url"`
}

type Callback struct {
	Secret string `yaml:"secret"`
	Trust  string `yaml:"trust"`
}

type Plan struct {
	Name            string          `yaml:"name"`
	Price           decimal.Decimal `yaml:"price"`
	DurationMinutes int             `yaml:"duration_minutes"`
	Profile         string          `yaml:"profile"`
	Active          *bool           `yaml:"active"`
}

// Result counts what Apply changed.
type Result struct {
	CompaniesCreated int
	CompaniesUpdated int
	PlansCreated     int
	PlansUpdated     int
	PlansSkipped     int
	PlansRetired     int
}

func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*File, error) {
	expanded := os.Expand(string(raw), func(key string) string {
		return env.GetEnv(key, "")
	})
	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &f, nil
}

func (c Company) model() models.Company {
	kind := c.Controller.Kind
	if kind == "" {
		kind = models.ControllerKindRouterOS
	}
	port := c.Controller.Port
	if port == 0 {
		port = 8728
	}
	trust := c.Callback.Trust
	if trust == "" {
		trust = models.CallbackTrustVerify
	}
	return models.Company{
		Name:                     c.Name,
		ControllerKind:           kind,
		ControllerHost:           c.Controller.Host,
		ControllerPort:           port,
		ControllerUsername:       c.Controller.Username,
		ControllerPassword:       c.Controller.Password,
		ControllerUseTLS:         c.Controller.UseTLS,
		PaymentProvider:          c.Gateway.Provider,
		GatewayBaseURL:           c.Gateway.BaseURL,
		GatewayClientID:          c.Gateway.ClientID,
		GatewayClientSecret:      c.Gateway.ClientSecret,
		GatewaySubscriptionKey:   c.Gateway.SubscriptionKey,
		GatewayTargetEnvironment: c.Gateway.TargetEnvironment,
		GatewayCountry:           c.Gateway.Country,
		GatewayCurrency:          c.Gateway.Currency,
		GatewayCallbackURL:       c.Gateway.CallbackURL,
		CallbackSecret:           c.Callback.Secret,
		CallbackTrust:            trust,
	}
}

// Apply upserts every company and plan. A plan whose terms cannot change
// because it was already sold is skipped with a warning. Plans of a seeded
// company that the file no longer lists are taken off sale. Any other error
// stops the run.
func Apply(repos *repository.Repositories, f *File) (*Result, error) {
	res := &Result{}
	for _, c := range f.Companies {
		company, err := upsertCompany(repos.Company, c, res)
		if err != nil {
			return res, fmt.Errorf("company %q: %w", c.Name, err)
		}
		for _, p := range c.Plans {
			if err := upsertPlan(repos.Plan, company.ID, p, res); err != nil {
				if errors.Is(err, repository.ErrPlanInUse) {
					log.Warnf("[Seed] Plan %q of %s already sold, terms left unchanged", p.Name, company.Name)
					res.PlansSkipped++
					continue
				}
				return res, fmt.Errorf("plan %q of %q: %w", p.Name, c.Name, err)
			}
		}
		if err := retireMissingPlans(repos.Plan, company, c.Plans, res); err != nil {
			return res, fmt.Errorf("retiring plans of %q: %w", c.Name, err)
		}
	}
	return res, nil
}

func retireMissingPlans(repo repository.PlanRepository, company *models.Company, listed []Plan, res *Result) error {
	keep := make(map[string]bool, len(listed))
	for _, p := range listed {
		keep[p.Name] = true
	}
	current, err := repo.ListByCompany(company.ID)
	if err != nil {
		return err
	}
	for _, p := range current {
		if keep[p.Name] || !p.IsActive {
			continue
		}
		if err := repo.SetActive(company.ID, p.ID, false); err != nil {
			return err
		}
		res.PlansRetired++
		log.Infof("[Seed] Plan %q of %s is no longer listed, taken off sale", p.Name, company.Name)
	}
	return nil
}

func upsertCompany(repo repository.CompanyRepository, c Company, res *Result) (*models.Company, error) {
	want := c.model()
	existing, err := repo.GetByName(c.Name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := repo.Create(&want); err != nil {
			return nil, err
		}
		res.CompaniesCreated++
		log.Infof("[Seed] Created company %s (id %d)", want.Name, want.ID)
		return &want, nil
	}
	if err != nil {
		return nil, err
	}
	want.ID = existing.ID
	want.CreatedAt = existing.CreatedAt
	if err := repo.Update(&want); err != nil {
		return nil, err
	}
	res.CompaniesUpdated++
	return &want, nil
}

func upsertPlan(repo repository.PlanRepository, companyID uint, p Plan, res *Result) error {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	want := models.Plan{
		CompanyID:         companyID,
		Name:              p.Name,
		Price:             p.Price,
		DurationMinutes:   p.DurationMinutes,
		ControllerProfile: p.Profile,
		IsActive:          active,
	}
	existing, err := repo.GetByName(companyID, p.Name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := repo.Create(&want); err != nil {
			return err
		}
		res.PlansCreated++
		return nil
	}
	if err != nil {
		return err
	}
	want.ID = existing.ID
	if err := repo.Update(&want); err != nil {
		return err
	}
	res.PlansUpdated++
	return nil
}
