package transfer

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
)

// TempStrategy selects how driverCopy stages a bulk copy.
type TempStrategy string

const (
	// TempDirect copies straight into the destination.
	TempDirect TempStrategy = "DIRECT"

	// TempMemory stages the copy in an in-memory SQLite store first.
	TempMemory TempStrategy = "MEMORY"
)

// ParseTempStrategy validates a configured strategy. Blank means DIRECT.
func ParseTempStrategy(s string) (TempStrategy, error) {
	switch TempStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case "", TempDirect:
		return TempDirect, nil
	case TempMemory:
		return TempMemory, nil
	default:
		return "", core.NewSyncError(core.ErrCodeUnknownTempStrategy, "",
			fmt.Sprintf("cannot match staging type %q with known types [%s %s]", s, TempDirect, TempMemory), nil)
	}
}

// Params are the per-call options of Writer.Write.
type Params struct {
	// URI is the source document read by the first attempt.
	URI string

	// Entry is the layer's configuration.
	Entry core.LayerConfigEntry

	// LayerName is the sanitised destination layer name.
	LayerName string

	IncrementalWithPrimaryKey bool
	ForceFeatureByFeature     bool
	WideInteger               bool
	SRSConversion             bool

	// TargetSRS is the requested destination reference when SRSConversion is set.
	TargetSRS core.SpatialReference

	TempStrategy TempStrategy
}

// mode names the copy routine Params select.
func (p Params) mode() string {
	switch {
	case p.IncrementalWithPrimaryKey:
		return "featureCopyIncremental"
	// Wide-integer layers must stay off driverCopy: its bulk copy keeps the
	// source numeric type instead of storing those columns as text.
	case p.ForceFeatureByFeature || p.WideInteger || p.SRSConversion:
		return "featureCopy"
	default:
		return "driverCopy"
	}
}

// WriteContext is the state of one Write invocation. Every copy routine
// receives it explicitly.
type WriteContext struct {
	Params Params
	Retry  RetryState

	// Transform reprojects geometries of the current layer; nil means none.
	Transform core.TransformFunc

	// SourceURI is the URI of the document being copied.
	SourceURI string
}

func (wc *WriteContext) transcodeOptions() transcode.Options {
	return transcode.Options{
		Transform:   wc.Transform,
		WideInteger: wc.Params.WideInteger,
		SourceURI:   wc.SourceURI,
	}
}
