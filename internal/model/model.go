// Package model provides the entity and mutation types cached by the
// local store.
//
// Every entity carries a string store key that is its primary key within
// its collection: "srv-<id>" once the remote service has confirmed the
// record, or an opaque "local-<token>" key while only an optimistic
// placeholder exists. The provenance flag distinguishes the two states
// and the pending flag marks placeholders still awaiting confirmation.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/agrosync/harvest/internal/refcode"
	"github.com/oklog/ulid/v2"
)

// Provenance records where a cached record came from.
type Provenance string

const (
	// ProvenanceServer marks a record confirmed by the remote service.
	ProvenanceServer Provenance = "server"

	// ProvenanceLocal marks an optimistic placeholder created offline.
	ProvenanceLocal Provenance = "local"
)

// Collection names used by the local store.
const (
	ColPlots         = "plots"
	ColTrees         = "trees"
	ColCrates        = "crates"
	ColPicks         = "picks"
	ColTags          = "tags"
	ColPlotTags      = "plot_tags"
	ColLandscapes    = "landscapes"
	ColActivityTypes = "activity_types"
	ColActivities    = "activities"
)

// ServerCollections lists every collection rebuilt from a snapshot, in
// rebuild order.
var ServerCollections = []string{
	ColPlots, ColTrees, ColCrates, ColPicks, ColTags,
	ColPlotTags, ColLandscapes, ColActivityTypes, ColActivities,
}

// Metadata slot keys.
const (
	// MetaLastSnapshotAt records when the last snapshot download
	// completed (RFC 3339).
	MetaLastSnapshotAt = "last_snapshot_at"

	// MetaInflightCrateCode marks a remote crate creation in flight, so
	// a pass interrupted between the remote call and outbox removal can
	// reconcile by re-listing instead of creating a duplicate.
	MetaInflightCrateCode = "inflight_crate_code"
)

// Secondary index names. The store maintains these per collection.
const (
	IndexCode     = "code"      // crate by human reference code
	IndexNormCode = "norm_code" // crate by zero-stripped reference code
	IndexPlot     = "plot"      // picks and activities by owning plot key
)

// ServerKey returns the store key for a server-confirmed record.
func ServerKey(id int64) string {
	return fmt.Sprintf("srv-%d", id)
}

// NewLocalKey returns a fresh opaque key for a locally created record.
func NewLocalKey() string {
	return "local-" + ulid.Make().String()
}

// IsLocalKey reports whether a store key belongs to a placeholder.
func IsLocalKey(key string) bool {
	return strings.HasPrefix(key, "local-")
}

// TagRef is the denormalized tag reference embedded on plots and picks:
// the tag's canonical id (0 while only locally known) and display name.
type TagRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// LandscapeRef is the denormalized landscape reference carried by a
// create-pick payload.
type LandscapeRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Plot is a cultivated plot. Tag names and the landscape name are
// denormalized copies maintained by the projector and the snapshot
// downloader; the tag join table is the source of truth server-side.
type Plot struct {
	ID            int64      `json:"id"`
	Key           string     `json:"key"`
	Name          string     `json:"name"`
	LandscapeID   int64      `json:"landscape_id,omitempty"`
	LandscapeName string     `json:"landscape_name,omitempty"`
	Tags          []TagRef   `json:"tags,omitempty"`
	Provenance    Provenance `json:"provenance"`
	Pending       bool       `json:"pending"`

	// LandscapeLocal marks a landscape denormalization that came from a
	// queued pick rather than the snapshot, so retraction knows it may
	// be cleared.
	LandscapeLocal bool `json:"landscape_local,omitempty"`
}

func (p *Plot) StoreKey() string { return p.Key }

func (p *Plot) StoreIndexes() map[string]string { return nil }

// Tree is an individual tree within a plot.
type Tree struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Code       string     `json:"code"`
	PlotID     int64      `json:"plot_id,omitempty"`
	PlotName   string     `json:"plot_name,omitempty"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (t *Tree) StoreKey() string { return t.Key }

func (t *Tree) StoreIndexes() map[string]string {
	return map[string]string{
		IndexCode:     t.Code,
		IndexNormCode: refcode.Normalize(t.Code),
	}
}

// Crate is a harvest crate identified by a human-entered reference code.
type Crate struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Code       string     `json:"code"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (c *Crate) StoreKey() string { return c.Key }

func (c *Crate) StoreIndexes() map[string]string {
	return map[string]string{
		IndexCode:     c.Code,
		IndexNormCode: refcode.Normalize(c.Code),
	}
}

// Pick assigns a crate to a plot with the harvest details recorded in
// the field. Plot display fields and tag names are denormalized copies.
type Pick struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	CrateID    int64      `json:"crate_id,omitempty"`
	CrateCode  string     `json:"crate_code"`
	PlotID     int64      `json:"plot_id"`
	PlotKey    string     `json:"plot_key"`
	PlotName   string     `json:"plot_name,omitempty"`
	WeightKg   float64    `json:"weight_kg"`
	Reserved   bool       `json:"reserved,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Tags       []TagRef   `json:"tags,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (p *Pick) StoreKey() string { return p.Key }

func (p *Pick) StoreIndexes() map[string]string {
	return map[string]string{IndexPlot: p.PlotKey}
}

// Tag is a classification label applied to plots and picks.
type Tag struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (t *Tag) StoreKey() string { return t.Key }

func (t *Tag) StoreIndexes() map[string]string { return nil }

// PlotTagLink is one row of the plot-to-tag join table from the
// snapshot. The store keeps the links so the projector can recompute a
// plot's denormalized tag list after a placeholder is retracted.
type PlotTagLink struct {
	PlotID int64 `json:"plot_id"`
	TagID  int64 `json:"tag_id"`
}

func (l *PlotTagLink) StoreKey() string {
	return fmt.Sprintf("%d-%d", l.PlotID, l.TagID)
}

func (l *PlotTagLink) StoreIndexes() map[string]string {
	return map[string]string{IndexPlot: ServerKey(l.PlotID)}
}

// Landscape is a named area grouping plots.
type Landscape struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (l *Landscape) StoreKey() string { return l.Key }

func (l *Landscape) StoreIndexes() map[string]string { return nil }

// ActivityType describes a kind of timed field activity.
type ActivityType struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Icon       string     `json:"icon,omitempty"`
	Provenance Provenance `json:"provenance"`
	Pending    bool       `json:"pending"`
}

func (a *ActivityType) StoreKey() string { return a.Key }

func (a *ActivityType) StoreIndexes() map[string]string { return nil }

// Activity is a timed field activity recorded against a plot and
// optionally a single tree. Type and plot display fields are
// denormalized copies.
type Activity struct {
	ID           int64      `json:"id"`
	Key          string     `json:"key"`
	PlotID       int64      `json:"plot_id"`
	PlotKey      string     `json:"plot_key"`
	PlotName     string     `json:"plot_name,omitempty"`
	TreeID       int64      `json:"tree_id,omitempty"`
	TreeCode     string     `json:"tree_code,omitempty"`
	TypeID       int64      `json:"type_id"`
	TypeName     string     `json:"type_name,omitempty"`
	TypeIcon     string     `json:"type_icon,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	DurationSecs int64      `json:"duration_secs,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Provenance   Provenance `json:"provenance"`
	Pending      bool       `json:"pending"`
}

func (a *Activity) StoreKey() string { return a.Key }

func (a *Activity) StoreIndexes() map[string]string {
	return map[string]string{IndexPlot: a.PlotKey}
}

// Snapshot is the full authoritative dataset returned by the remote
// service in one response, one ordered collection per entity type plus
// the plot-to-tag join table.
type Snapshot struct {
	Plots         []Plot         `json:"plots"`
	Trees         []Tree         `json:"trees"`
	Crates        []Crate        `json:"crates"`
	Picks         []Pick         `json:"picks"`
	Tags          []Tag          `json:"tags"`
	PlotTags      []PlotTagLink  `json:"plot_tags"`
	Landscapes    []Landscape    `json:"landscapes"`
	ActivityTypes []ActivityType `json:"activity_types"`
	Activities    []Activity     `json:"activities"`
}
