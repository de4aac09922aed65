package models

import (
	"encoding/json"
	"time"
)

// Lead is an inbound sales prospect for guard services.
type Lead struct {
	ID            string    `json:"id"`
	Tenant        string    `json:"tenant"`
	CompanyName   string    `json:"company_name"`
	ContactName   string    `json:"contact_name"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	ContactPhone  string    `json:"contact_phone,omitempty"`
	Source        string    `json:"source"`
	ServiceType   string    `json:"service_type"`
	SiteCount     int       `json:"site_count"`
	BudgetMonthly float64   `json:"budget_monthly"`
	StartWithin   int       `json:"start_within_days"`
	Region        string    `json:"region"`
	Status        string    `json:"status"`
	Score         float64   `json:"score"`
	ScoreBand     string    `json:"score_band,omitempty"`
	AssignedTo    string    `json:"assigned_to,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScoreBreakdown reports per-factor contributions for one lead score.
type ScoreBreakdown struct {
	LeadID  string            `json:"lead_id"`
	Score   float64           `json:"score"`
	Band    string            `json:"band"`
	Factors map[string]Factor `json:"factors"`
}

type Factor struct {
	Value    float64 `json:"value"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// Application is a hiring-pipeline candidate for a guard position.
type Application struct {
	ID            string    `json:"id"`
	Tenant        string    `json:"tenant"`
	CandidateName string    `json:"candidate_name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Position      string    `json:"position"`
	LicenseNumber string    `json:"license_number,omitempty"`
	LicenseExpiry string    `json:"license_expiry,omitempty"`
	Stage         string    `json:"stage"`
	Revision      int64     `json:"revision"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StageMove is one row of an application's Kanban history.
type StageMove struct {
	ApplicationID string    `json:"application_id"`
	FromStage     string    `json:"from_stage"`
	ToStage       string    `json:"to_stage"`
	MovedBy       string    `json:"moved_by"`
	Note          string    `json:"note,omitempty"`
	MovedAt       time.Time `json:"moved_at"`
}

// Contract is a client engagement that shifts are scheduled against.
type Contract struct {
	ID            string    `json:"id"`
	Tenant        string    `json:"tenant"`
	ClientName    string    `json:"client_name"`
	SiteAddress   string    `json:"site_address"`
	GuardsNeeded  int       `json:"guards_needed"`
	HoursPerWeek  float64   `json:"hours_per_week"`
	ArmedRequired bool      `json:"armed_required"`
	Status        string    `json:"status"`
	StartsOn      time.Time `json:"starts_on"`
	EndsOn        time.Time `json:"ends_on"`
	CreatedAt     time.Time `json:"created_at"`
}

// Shift assigns a guard to a contract site for a concrete window.
type Shift struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	ContractID string    `json:"contract_id"`
	GuardID    string    `json:"guard_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Experiment configures an A/B test over some funnel surface.
type Experiment struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	Variants  []Variant `json:"variants"`
	Alpha     float64   `json:"alpha"`
	CreatedAt time.Time `json:"created_at"`
}

type Variant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"` // share of 10000
}

// Notification is a stored per-user message derived from platform events.
type Notification struct {
	ID        string          `json:"id"`
	Tenant    string          `json:"tenant"`
	Recipient string          `json:"recipient"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// CalendarAccount holds a tenant user's OAuth link to an external calendar.
type CalendarAccount struct {
	ID           string    `json:"id"`
	Tenant       string    `json:"tenant"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	CalendarID   string    `json:"calendar_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SubjectRestriction marks a data subject whose records must not be
// processed. Subjects are stored as salted hashes, never raw identifiers.
type SubjectRestriction struct {
	Tenant      string     `json:"tenant"`
	SubjectHash string     `json:"subject_hash"`
	Reason      string     `json:"reason"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	LiftedBy    string     `json:"lifted_by,omitempty"`
	LiftedAt    *time.Time `json:"lifted_at,omitempty"`
}
