package core

import (
	"context"
	"strings"
)

// Layer configuration property keys.
const (
	PropID           = "id"
	PropPrimaryKey   = "pkey"
	PropName         = "name"
	PropCategory     = "category"
	PropLastModified = "lastmodified"
	PropGeoColumn    = "geocolumn"
	PropIndex        = "index"
	PropEPSG         = "epsg"
	PropDiscard      = "discard"
	PropCQL          = "cql"
)

// ConfigColumns lists every property a layer configuration entry carries, in storage order.
var ConfigColumns = []string{
	PropID, PropPrimaryKey, PropName, PropCategory, PropLastModified,
	PropGeoColumn, PropIndex, PropEPSG, PropDiscard, PropCQL,
}

// LayerConfigEntry is the per-layer configuration read once per layer per pass.
type LayerConfigEntry struct {
	ID             string   `yaml:"id" json:"id"`
	PrimaryKey     string   `yaml:"pkey,omitempty" json:"pkey,omitempty"`
	Name           string   `yaml:"name" json:"name"`
	Category       string   `yaml:"category,omitempty" json:"category,omitempty"`
	LastModified   string   `yaml:"lastmodified,omitempty" json:"lastmodified,omitempty"`
	GeometryColumn string   `yaml:"geocolumn,omitempty" json:"geocolumn,omitempty"`
	Index          string   `yaml:"index,omitempty" json:"index,omitempty"`
	EPSG           string   `yaml:"epsg,omitempty" json:"epsg,omitempty"`
	Discard        []string `yaml:"discard,omitempty" json:"discard,omitempty"`
	CQL            string   `yaml:"cql,omitempty" json:"cql,omitempty"`
}

// HasPrimaryKey reports whether a primary key column is configured.
func (e LayerConfigEntry) HasPrimaryKey() bool {
	return strings.TrimSpace(e.PrimaryKey) != ""
}

// Categories returns the entry's comma separated category list.
func (e LayerConfigEntry) Categories() []string {
	return SplitList(e.Category)
}

// Property returns a property as its string form.
func (e LayerConfigEntry) Property(key string) (string, bool) {
	switch key {
	case PropID:
		return e.ID, true
	case PropPrimaryKey:
		return e.PrimaryKey, true
	case PropName:
		return e.Name, true
	case PropCategory:
		return e.Category, true
	case PropLastModified:
		return e.LastModified, true
	case PropGeoColumn:
		return e.GeometryColumn, true
	case PropIndex:
		return e.Index, true
	case PropEPSG:
		return e.EPSG, true
	case PropDiscard:
		return strings.Join(e.Discard, ","), true
	case PropCQL:
		return e.CQL, true
	default:
		return "", false
	}
}

// SetProperty assigns a property from its string form.
func (e *LayerConfigEntry) SetProperty(key, value string) bool {
	switch key {
	case PropID:
		e.ID = value
	case PropPrimaryKey:
		e.PrimaryKey = value
	case PropName:
		e.Name = value
	case PropCategory:
		e.Category = value
	case PropLastModified:
		e.LastModified = value
	case PropGeoColumn:
		e.GeometryColumn = value
	case PropIndex:
		e.Index = value
	case PropEPSG:
		e.EPSG = value
	case PropDiscard:
		e.Discard = SplitList(value)
	case PropCQL:
		e.CQL = value
	default:
		return false
	}
	return true
}

// SplitList splits a comma separated list, trimming brackets and whitespace
// and dropping empty members.
func SplitList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]{}()")
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LayerConfig is the layer-configuration collaborator.
type LayerConfig interface {
	// ReadProperty returns one property of a layer. Missing layers or keys return "".
	ReadProperty(ctx context.Context, layerID, key string) (string, error)

	// WriteProperty stores one property of a layer.
	WriteProperty(ctx context.Context, layerID, key, value string) error

	// LayerNames returns every configured layer id.
	LayerNames(ctx context.Context) ([]string, error)

	// Entry returns the full configuration of a layer.
	Entry(ctx context.Context, layerID string) (LayerConfigEntry, error)
}
