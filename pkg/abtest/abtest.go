// Package abtest assigns experiment variants deterministically and evaluates
// variant performance with a two-proportion z-test against the control.
package abtest

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"guardpost/pkg/models"
)

const (
	StatusDraft     = "DRAFT"
	StatusRunning   = "RUNNING"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"

	// bucketSpace is the resolution of traffic splits; variant weights are
	// shares of this total.
	bucketSpace = 10000

	DefaultAlpha     = 0.05
	MinSamplesPerArm = 30
)

var (
	ErrNoVariants = errors.New("abtest: experiment has no variants")
	ErrBadSplit   = errors.New("abtest: variant weights must sum to 10000")
	ErrNotRunning = errors.New("abtest: experiment is not running")
	ErrNoControl  = errors.New("abtest: control variant not found")
)

// ValidateVariants checks an experiment's traffic split before it is saved.
// The first variant is the control by convention.
func ValidateVariants(variants []models.Variant) error {
	if len(variants) < 2 {
		return ErrNoVariants
	}
	total := 0
	seen := map[string]struct{}{}
	for _, v := range variants {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return fmt.Errorf("abtest: variant with empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("abtest: duplicate variant %q", name)
		}
		seen[name] = struct{}{}
		if v.Weight <= 0 {
			return fmt.Errorf("abtest: variant %q has non-positive weight", name)
		}
		total += v.Weight
	}
	if total != bucketSpace {
		return ErrBadSplit
	}
	return nil
}

// Assign picks the variant for a subject. The choice is a pure function of
// (experiment key, subject): the same caller always lands in the same bucket,
// with no stored coordination needed across api replicas.
func Assign(exp models.Experiment, subject string) (string, error) {
	if exp.Status != StatusRunning {
		return "", ErrNotRunning
	}
	if err := ValidateVariants(exp.Variants); err != nil {
		return "", err
	}
	bucket := int(hashBucket(exp.Key, subject))
	cumulative := 0
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if bucket < cumulative {
			return v.Name, nil
		}
	}
	// Unreachable when weights sum to bucketSpace.
	return exp.Variants[len(exp.Variants)-1].Name, nil
}

func hashBucket(key, subject string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(subject))
	return h.Sum32() % bucketSpace
}

// Arm is the observed funnel data for one variant.
type Arm struct {
	Variant     string `json:"variant"`
	Exposures   int64  `json:"exposures"`
	Conversions int64  `json:"conversions"`
}

// VariantResult compares one arm to the control arm.
type VariantResult struct {
	Variant        string  `json:"variant"`
	Exposures      int64   `json:"exposures"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	UpliftPct      float64 `json:"uplift_pct"`
	ZScore         float64 `json:"z_score"`
	PValue         float64 `json:"p_value"`
	Significant    bool    `json:"significant"`
	Insufficient   bool    `json:"insufficient_data"`
}

// Results holds the full readout for an experiment.
type Results struct {
	Control  VariantResult   `json:"control"`
	Variants []VariantResult `json:"variants"`
	Alpha    float64         `json:"alpha"`
}

// Evaluate runs the two-proportion z-test of each arm against the control
// (the first arm). Arms below MinSamplesPerArm exposures, or comparisons with
// no variance, are flagged insufficient rather than reported as significant.
func Evaluate(arms []Arm, alpha float64) (Results, error) {
	if len(arms) == 0 {
		return Results{}, ErrNoControl
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	control := arms[0]
	out := Results{
		Control: VariantResult{
			Variant:        control.Variant,
			Exposures:      control.Exposures,
			Conversions:    control.Conversions,
			ConversionRate: rate(control),
			Insufficient:   control.Exposures < MinSamplesPerArm,
		},
		Alpha: alpha,
	}
	for _, arm := range arms[1:] {
		out.Variants = append(out.Variants, compare(control, arm, alpha))
	}
	return out, nil
}

func compare(control, arm Arm, alpha float64) VariantResult {
	res := VariantResult{
		Variant:        arm.Variant,
		Exposures:      arm.Exposures,
		Conversions:    arm.Conversions,
		ConversionRate: rate(arm),
		PValue:         1,
	}
	if control.Exposures < MinSamplesPerArm || arm.Exposures < MinSamplesPerArm {
		res.Insufficient = true
		return res
	}
	p1 := rate(arm)
	p2 := rate(control)
	if p2 > 0 {
		res.UpliftPct = (p1 - p2) / p2 * 100
	}
	n1 := float64(arm.Exposures)
	n2 := float64(control.Exposures)
	pooled := (float64(arm.Conversions) + float64(control.Conversions)) / (n1 + n2)
	variance := pooled * (1 - pooled) * (1/n1 + 1/n2)
	if variance <= 0 {
		// All successes or all failures across both arms: no signal.
		res.Insufficient = true
		return res
	}
	res.ZScore = (p1 - p2) / math.Sqrt(variance)
	res.PValue = twoSidedPValue(res.ZScore)
	res.Significant = res.PValue < alpha
	return res
}

func rate(a Arm) float64 {
	if a.Exposures <= 0 {
		return 0
	}
	r := float64(a.Conversions) / float64(a.Exposures)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// twoSidedPValue converts a z statistic to a two-sided p-value using the
// normal-CDF identity P(|Z| >= z) = erfc(|z| / sqrt(2)).
func twoSidedPValue(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}
