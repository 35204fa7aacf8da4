package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationType identifies one of the closed set of queued write intents.
type MutationType string

const (
	// MutationEnsureCrate records that a crate with a given human code
	// must exist, creating it remotely if unknown.
	MutationEnsureCrate MutationType = "ensure-crate"

	// MutationCreatePick records a new crate-to-plot assignment.
	MutationCreatePick MutationType = "create-pick"

	// MutationCreateActivity records a new timed field activity.
	MutationCreateActivity MutationType = "create-activity"
)

// Mutation statuses.
const (
	MutationStatusPending = "pending"
)

// Mutation is a queued write intent awaiting remote confirmation. The
// payload carries everything needed to replay the intent independently.
type Mutation struct {
	ID        int64           `json:"id"`
	Type      MutationType    `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// EnsureCratePayload is the payload of an ensure-crate mutation.
type EnsureCratePayload struct {
	Code string `json:"code"`
}

// Validate checks the payload fields.
func (p *EnsureCratePayload) Validate() error {
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}

// CreatePickPayload is the payload of a create-pick mutation. PickKey is
// minted once when the mutation is queued so re-applying the payload
// after a snapshot rebuild recreates the same placeholder.
type CreatePickPayload struct {
	PickKey   string        `json:"pick_key"`
	PlotID    int64         `json:"plot_id"`
	CrateCode string        `json:"crate_code"`
	WeightKg  float64       `json:"weight_kg"`
	Reserved  bool          `json:"reserved,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	Tags      []TagRef      `json:"tags,omitempty"`
	Landscape *LandscapeRef `json:"landscape,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Validate checks the payload fields.
func (p *CreatePickPayload) Validate() error {
	if p.PickKey == "" {
		return fmt.Errorf("pick_key is required")
	}
	if !IsLocalKey(p.PickKey) {
		return fmt.Errorf("pick_key must be a local key (got %q)", p.PickKey)
	}
	if p.PlotID <= 0 {
		return fmt.Errorf("plot_id must be positive (got %d)", p.PlotID)
	}
	if p.CrateCode == "" {
		return fmt.Errorf("crate_code is required")
	}
	if p.WeightKg < 0 {
		return fmt.Errorf("weight_kg must not be negative (got %v)", p.WeightKg)
	}
	return nil
}

// CreateActivityPayload is the payload of a create-activity mutation.
// Type name and icon may be supplied inline; when absent the projector
// resolves them from the local activity-type collection.
type CreateActivityPayload struct {
	ActivityKey  string    `json:"activity_key"`
	PlotID       int64     `json:"plot_id"`
	TreeID       int64     `json:"tree_id,omitempty"`
	TypeID       int64     `json:"type_id"`
	TypeName     string    `json:"type_name,omitempty"`
	TypeIcon     string    `json:"type_icon,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationSecs int64     `json:"duration_secs,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// Validate checks the payload fields.
func (p *CreateActivityPayload) Validate() error {
	if p.ActivityKey == "" {
		return fmt.Errorf("activity_key is required")
	}
	if !IsLocalKey(p.ActivityKey) {
		return fmt.Errorf("activity_key must be a local key (got %q)", p.ActivityKey)
	}
	if p.PlotID <= 0 {
		return fmt.Errorf("plot_id must be positive (got %d)", p.PlotID)
	}
	if p.TypeID <= 0 && p.TypeName == "" {
		return fmt.Errorf("type_id or type_name is required")
	}
	if p.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	return nil
}

// DecodePayload unmarshals the mutation payload into the concrete type
// for the mutation's type tag.
func (m *Mutation) DecodePayload() (any, error) {
	switch m.Type {
	case MutationEnsureCrate:
		var p EnsureCratePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
		}
		return &p, nil
	case MutationCreatePick:
		var p CreatePickPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
		}
		return &p, nil
	case MutationCreateActivity:
		var p CreateActivityPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown mutation type %q", m.Type)
	}
}
