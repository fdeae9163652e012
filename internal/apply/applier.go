// Package apply dispatches incremental changes onto destination layers.
package apply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
)

// ErrCompensationFailed marks an update whose delete-then-insert fallback
// also failed. It aborts the feature loop.
var ErrCompensationFailed = errors.New("compensating delete/insert failed")

// Target describes the destination side of one feature loop.
type Target struct {
	// Defn is the destination feature definition shared by the loop.
	Defn *core.FeatureDefinition

	// PrimaryKey is the configured key column; empty means match on every field.
	PrimaryKey string

	// Options are passed to the transcoder.
	Options transcode.Options

	// Pending holds the events of a loop running inside a transaction.
	// Nil publishes each change as soon as it is applied.
	Pending *Pending
}

// Pending collects change events until their transaction commits.
type Pending struct {
	events []*core.ChangeEvent
}

// Len returns the number of held events.
func (p *Pending) Len() int { return len(p.events) }

// Applier applies insert, update and delete changes to a destination layer
// and publishes each applied change.
type Applier struct {
	transcoder *transcode.Transcoder
	feed       core.ChangeFeed
	runID      string
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an applier. feed may be nil.
func New(transcoder *transcode.Transcoder, feed core.ChangeFeed, runID string, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		transcoder: transcoder,
		feed:       feed,
		runID:      runID,
		logger:     logger.Named("apply"),
		now:        time.Now,
	}
}

// IsFatal reports whether err must stop the feature loop.
func IsFatal(err error) bool {
	return err != nil && (!core.IsInvalidFeatureError(err) || errors.Is(err, ErrCompensationFailed))
}

// Apply dispatches one change. Unknown change types are logged and skipped.
func (a *Applier) Apply(ctx context.Context, change core.ChangeType, f *core.Feature, dst core.Layer, target Target) error {
	switch change {
	case core.ChangeInsert:
		return a.insert(ctx, f, dst, target)
	case core.ChangeUpdate:
		return a.update(ctx, f, dst, target)
	case core.ChangeDelete:
		return a.delete(ctx, f, dst, target)
	default:
		a.logger.Error("unknown change type, expected one of insert, update, delete",
			zap.String("layer", dst.Name()),
			zap.String("change", string(change)),
		)
		return nil
	}
}

func (a *Applier) insert(ctx context.Context, f *core.Feature, dst core.Layer, target Target) error {
	out, err := a.transcoder.Clone(ctx, f, target.Defn, target.Options)
	if err != nil {
		return err
	}
	if err := dst.CreateFeature(ctx, out); err != nil {
		return invalid(dst, core.ChangeInsert, "", err)
	}
	a.publish(ctx, dst, target, core.ChangeInsert, identityKey(out, target.PrimaryKey), out.FID, out)
	return nil
}

func (a *Applier) update(ctx context.Context, f *core.Feature, dst core.Layer, target Target) error {
	out, err := a.transcoder.Clone(ctx, f, target.Defn, target.Options)
	if err != nil {
		return err
	}
	key := identityKey(out, target.PrimaryKey)
	match, err := a.match(ctx, f, out, dst, target.PrimaryKey)
	if err != nil {
		return err
	}
	if match == nil {
		return invalid(dst, core.ChangeUpdate, key, errors.New("no matching feature"))
	}

	out.FID = match.FID
	if setErr := dst.SetFeature(ctx, out); setErr != nil {
		a.logger.Warn("update failed, attempting delete and insert",
			zap.String("layer", dst.Name()),
			zap.String("key", key),
			zap.Error(setErr),
		)
		delErr := dst.DeleteFeature(ctx, match.FID)
		var insErr error
		if delErr == nil {
			insErr = dst.CreateFeature(ctx, out)
		}
		if delErr != nil || insErr != nil {
			return core.NewSyncError(core.ErrCodeInvalidFeature, dst.Name(),
				fmt.Sprintf("driver error on update of %s", key),
				errors.Join(ErrCompensationFailed, setErr, delErr, insErr))
		}
	}
	a.publish(ctx, dst, target, core.ChangeUpdate, key, out.FID, out)
	return nil
}

func (a *Applier) delete(ctx context.Context, f *core.Feature, dst core.Layer, target Target) error {
	out, err := a.transcoder.Clone(ctx, f, target.Defn, target.Options)
	if err != nil {
		return err
	}
	key := identityKey(out, target.PrimaryKey)
	match, err := a.match(ctx, f, out, dst, target.PrimaryKey)
	if err != nil {
		return err
	}
	if match == nil {
		return invalid(dst, core.ChangeDelete, key, errors.New("no matching feature"))
	}
	if err := dst.DeleteFeature(ctx, match.FID); err != nil {
		return invalid(dst, core.ChangeDelete, key, err)
	}
	a.publish(ctx, dst, target, core.ChangeDelete, key, match.FID, nil)
	return nil
}

// match resolves the stored feature a change refers to. The first match in
// FID order wins.
func (a *Applier) match(ctx context.Context, src, out *core.Feature, dst core.Layer, pkey string) (*core.Feature, error) {
	preds, err := identity(src, out, pkey)
	if err != nil {
		return nil, invalid(dst, "", "", err)
	}
	found, err := dst.FindFeatures(ctx, preds, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to look up feature in %s: %w", dst.Name(), err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		a.logger.Warn("ambiguous feature match, using the first",
			zap.String("layer", dst.Name()),
			zap.String("key", identityKey(out, pkey)),
			zap.Int("matches", len(found)),
		)
	}
	return found[0], nil
}

// identity builds the lookup filter: pkey = value when a key is configured,
// otherwise every non-empty destination field.
func identity(src, out *core.Feature, pkey string) ([]core.Predicate, error) {
	if pkey != "" {
		v, ok := out.Get(pkey)
		if !ok || v == nil {
			v, ok = src.Get(pkey)
		}
		if !ok || v == nil {
			return nil, fmt.Errorf("feature has no value for primary key %q", pkey)
		}
		return []core.Predicate{{Column: pkey, Value: v}}, nil
	}

	var preds []core.Predicate
	for i, field := range out.Defn.Fields {
		v := out.Values[i]
		if v == nil || core.FormatValue(v) == "" {
			continue
		}
		preds = append(preds, core.Predicate{Column: field.Name, Value: v})
	}
	if len(preds) == 0 {
		return nil, errors.New("feature has no values to match on")
	}
	return preds, nil
}

// identityKey renders the identity of a feature for logs and events.
func identityKey(f *core.Feature, pkey string) string {
	if pkey != "" {
		return f.GetString(pkey)
	}
	var parts []string
	for i, field := range f.Defn.Fields {
		if s := core.FormatValue(f.Values[i]); s != "" {
			parts = append(parts, field.Name+"="+s)
		}
	}
	return strings.Join(parts, ",")
}

func invalid(dst core.Layer, change core.ChangeType, key string, err error) error {
	msg := "invalid feature"
	if change != "" {
		msg = fmt.Sprintf("cannot %s feature %q", change, key)
	}
	return core.NewSyncError(core.ErrCodeInvalidFeature, dst.Name(), msg, err)
}

func (a *Applier) publish(ctx context.Context, dst core.Layer, target Target, change core.ChangeType, key string, fid int64, out *core.Feature) {
	if a.feed == nil {
		return
	}
	event := &core.ChangeEvent{
		RunID:     a.runID,
		Layer:     dst.Name(),
		Change:    change,
		Key:       key,
		FID:       fid,
		Timestamp: a.now().UTC(),
	}
	if out != nil {
		event.Data = transcode.Values(out)
	}
	if target.Pending != nil {
		target.Pending.events = append(target.Pending.events, event)
		return
	}
	a.enqueue(ctx, event)
}

// Flush publishes the events held by p after their transaction committed,
// then empties p.
func (a *Applier) Flush(ctx context.Context, p *Pending) {
	if p == nil {
		return
	}
	events := p.events
	p.events = nil
	if a.feed == nil {
		return
	}
	for _, event := range events {
		a.enqueue(ctx, event)
	}
}

func (a *Applier) enqueue(ctx context.Context, event *core.ChangeEvent) {
	if err := a.feed.Enqueue(ctx, event); err != nil {
		a.logger.Warn("failed to publish change", zap.String("layer", event.Layer), zap.Error(err))
	}
}
