package leads

import (
	"strings"

	"guardpost/pkg/models"
)

const (
	BandHot  = "hot"
	BandWarm = "warm"
	BandCold = "cold"

	hotThreshold  = 75.0
	warmThreshold = 45.0
)

// Weights control how much each qualification factor contributes to the
// 0..100 lead score. Zero-value weights fall back to Defaults.
type Weights struct {
	Source       float64 `json:"source"`
	Budget       float64 `json:"budget"`
	Sites        float64 `json:"sites"`
	Urgency      float64 `json:"urgency"`
	ServiceMatch float64 `json:"service_match"`
	Region       float64 `json:"region"`
}

// DefaultWeights mirror the tuning the sales team converged on: budget and
// urgency dominate, source quality and coverage matter less.
func DefaultWeights() Weights {
	return Weights{
		Source:       1.0,
		Budget:       2.5,
		Sites:        1.0,
		Urgency:      2.0,
		ServiceMatch: 1.5,
		Region:       1.0,
	}
}

func (w Weights) normalized() Weights {
	d := DefaultWeights()
	if w.Source <= 0 {
		w.Source = d.Source
	}
	if w.Budget <= 0 {
		w.Budget = d.Budget
	}
	if w.Sites <= 0 {
		w.Sites = d.Sites
	}
	if w.Urgency <= 0 {
		w.Urgency = d.Urgency
	}
	if w.ServiceMatch <= 0 {
		w.ServiceMatch = d.ServiceMatch
	}
	if w.Region <= 0 {
		w.Region = d.Region
	}
	return w
}

// Scorer evaluates leads against tenant-configurable weights. ServedRegions
// and Services describe what the tenant can actually staff.
type Scorer struct {
	Weights       Weights
	ServedRegions []string
	Services      []string
}

// Score computes the weighted factor score for a lead. Every factor is
// normalized to 0..100 before weighting, so the result is also 0..100.
func (s Scorer) Score(lead models.Lead) models.ScoreBreakdown {
	w := s.Weights.normalized()
	factors := map[string]models.Factor{
		"source":        {Value: sourceQuality(lead.Source), Weight: w.Source},
		"budget":        {Value: budgetBand(lead.BudgetMonthly), Weight: w.Budget},
		"sites":         {Value: siteCountValue(lead.SiteCount), Weight: w.Sites},
		"urgency":       {Value: urgencyValue(lead.StartWithin), Weight: w.Urgency},
		"service_match": {Value: matchValue(lead.ServiceType, s.Services), Weight: w.ServiceMatch},
		"region":        {Value: matchValue(lead.Region, s.ServedRegions), Weight: w.Region},
	}
	var weightedSum, totalWeight float64
	for name, f := range factors {
		f.Weighted = f.Value * f.Weight
		factors[name] = f
		weightedSum += f.Weighted
		totalWeight += f.Weight
	}
	score := 0.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return models.ScoreBreakdown{
		LeadID:  lead.ID,
		Score:   score,
		Band:    Band(score),
		Factors: factors,
	}
}

// Band maps a score to the hot/warm/cold routing band.
func Band(score float64) string {
	switch {
	case score >= hotThreshold:
		return BandHot
	case score >= warmThreshold:
		return BandWarm
	default:
		return BandCold
	}
}

func sourceQuality(source string) float64 {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "referral":
		return 100
	case "repeat_client":
		return 95
	case "website", "web_form":
		return 70
	case "phone":
		return 65
	case "event", "trade_show":
		return 55
	case "cold_outreach":
		return 35
	case "purchased_list":
		return 20
	default:
		return 40
	}
}

func budgetBand(monthly float64) float64 {
	switch {
	case monthly >= 50000:
		return 100
	case monthly >= 20000:
		return 85
	case monthly >= 10000:
		return 70
	case monthly >= 5000:
		return 50
	case monthly > 0:
		return 30
	default:
		return 10
	}
}

func siteCountValue(sites int) float64 {
	switch {
	case sites >= 10:
		return 100
	case sites >= 5:
		return 80
	case sites >= 2:
		return 60
	case sites == 1:
		return 45
	default:
		return 10
	}
}

// urgencyValue favors leads that need coverage soon but not so soon that
// staffing is impossible.
func urgencyValue(startWithinDays int) float64 {
	switch {
	case startWithinDays <= 0:
		return 25
	case startWithinDays <= 7:
		return 80
	case startWithinDays <= 30:
		return 100
	case startWithinDays <= 90:
		return 60
	default:
		return 30
	}
}

func matchValue(value string, served []string) float64 {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 25
	}
	if len(served) == 0 {
		return 75
	}
	for _, s := range served {
		if strings.ToLower(strings.TrimSpace(s)) == value {
			return 100
		}
	}
	return 15
}
