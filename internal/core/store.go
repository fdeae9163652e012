package core

import (
	"context"
)

// CreateStatus is the outcome of a layer creation request.
type CreateStatus int

const (
	// Created means the layer was created and is returned in the result.
	Created CreateStatus = iota

	// AlreadyExists means a table with the requested name already exists
	// but is not registered as a usable layer.
	AlreadyExists

	// Failed means the store could not create the layer; Reason explains why.
	Failed
)

func (s CreateStatus) String() string {
	switch s {
	case Created:
		return "created"
	case AlreadyExists:
		return "already-exists"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason classifies a Failed creation.
type FailureReason string

const (
	// ReasonUnsupportedSRS means the store does not recognise the spatial reference.
	ReasonUnsupportedSRS FailureReason = "unsupported spatial reference"

	// ReasonDriver is any other driver failure.
	ReasonDriver FailureReason = "driver failure"
)

// CreateResult is the variant returned by Store.CreateLayer.
type CreateResult struct {
	Status CreateStatus

	// Layer is set when Status is Created.
	Layer Layer

	// Reason and Err are set when Status is Failed.
	Reason FailureReason
	Err    error
}

// CreateLayerOptions carries the per-layer creation options.
type CreateLayerOptions struct {
	// GeometryColumn overrides the store's default geometry column name.
	GeometryColumn string

	// PrimaryKey names the source primary key column, if configured.
	PrimaryKey string
}

// Predicate is one equality term of a feature lookup filter.
type Predicate struct {
	Column string
	Value  any
}

// IndexSpec describes an index requested by layer configuration.
type IndexSpec struct {
	// Spec is the raw configured value, e.g. "s", "primary" or "col_a,col_b".
	Spec string

	// PrimaryKey and GeometryColumn resolve the spatial and primary forms.
	PrimaryKey     string
	GeometryColumn string
}

// Store is the capability interface of a destination data store.
// One adapter exists per destination family; the synchronization core
// depends only on this interface.
type Store interface {
	// Kind returns the destination family of this store.
	Kind() string

	// Layer returns the named layer, or nil if it does not exist.
	Layer(ctx context.Context, name string) (Layer, error)

	// CreateLayer creates a new empty layer.
	// Expected outcomes such as a name collision are reported through the
	// result variant, never through the error path.
	CreateLayer(ctx context.Context, name string, srs SpatialReference, gtype GeometryType, opts CreateLayerOptions) CreateResult

	// DeleteLayer removes a layer and its metadata. Deleting a missing layer is not an error.
	DeleteLayer(ctx context.Context, name string) error

	// ExecuteStatement runs a raw statement such as DROP TABLE or CREATE INDEX.
	ExecuteStatement(ctx context.Context, statement string) error

	// BuildIndex creates the index described by spec on the named layer.
	BuildIndex(ctx context.Context, layer string, spec IndexSpec) error

	// SelectValidGeometry returns gtype if the store supports it, otherwise GeometryUnknown.
	SelectValidGeometry(gtype GeometryType) GeometryType

	// DeleteField drops a column from the named layer.
	DeleteField(ctx context.Context, layer, field string) error

	// CopyLayer bulk copies every feature of src into a new layer without
	// per-field interception. Any existing layer of that name must be removed first.
	CopyLayer(ctx context.Context, src SourceLayer, name string, opts CreateLayerOptions) (Layer, error)

	// Close releases the store's connections.
	Close() error
}

// Layer is a destination layer handle.
type Layer interface {
	// Name returns the layer (table) name.
	Name() string

	// Fields returns the attribute columns in table order, excluding the
	// feature id and geometry columns.
	Fields(ctx context.Context) ([]FieldDefinition, error)

	// GeometryType returns the declared geometry type.
	GeometryType() GeometryType

	// CreateField adds an attribute column.
	CreateField(ctx context.Context, field FieldDefinition) error

	// CreateFeature inserts a feature and assigns its FID.
	CreateFeature(ctx context.Context, f *Feature) error

	// SetFeature overwrites the stored feature with f.FID.
	SetFeature(ctx context.Context, f *Feature) error

	// DeleteFeature removes the feature with the given FID.
	DeleteFeature(ctx context.Context, fid int64) error

	// FindFeatures returns up to limit features matching every predicate,
	// ordered by FID. A limit of zero means no limit.
	FindFeatures(ctx context.Context, preds []Predicate, limit int) ([]*Feature, error)

	// FeatureCount returns the number of stored features.
	FeatureCount(ctx context.Context) (int64, error)

	// StartTransaction begins a transaction scoped to this layer handle.
	StartTransaction(ctx context.Context) error

	// CommitTransaction commits the open transaction.
	CommitTransaction() error

	// RollbackTransaction aborts the open transaction.
	RollbackTransaction() error
}

// Source is the read side of a synchronization: a remote feature document
// that exposes one or more layers.
type Source interface {
	// Read (re)fetches the document at uri. createIfMissing is always false
	// for read-only sources and is accepted for interface symmetry.
	Read(ctx context.Context, uri string, createIfMissing bool) error

	// URI returns the URI of the last read.
	URI() string

	// Layers returns the layers of the last read.
	Layers() []SourceLayer

	// Partitioned reports whether reads are paged by a primary key cursor.
	Partitioned() bool
}

// SourceLayer iterates the features of one source layer.
type SourceLayer interface {
	// Descriptor returns the layer's descriptor.
	Descriptor() LayerDescriptor

	// NextFeature returns the next feature, or nil when exhausted.
	NextFeature() *Feature

	// ResetReading rewinds iteration to the first feature.
	ResetReading()
}
