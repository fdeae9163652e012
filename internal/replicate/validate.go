package replicate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// DateLayout is the watermark and window format.
const DateLayout = "2006-01-02T15:04:05"

// EarliestInitDate opens the window of a layer that has never been synchronized.
const EarliestInitDate = "2000-01-01T00:00:00"

var (
	dateFormat    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2})?$`)
	layerIDFormat = regexp.MustCompile(`^v:x\d+$`)
)

// ParseDate validates a window bound, accepting a bare date as midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !dateFormat.MatchString(s) {
		return time.Time{}, core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("date %q must be formatted yyyy-MM-dd[Thh:mm:ss]", s), nil)
	}
	if len(s) == len("2006-01-02") {
		s += "T00:00:00"
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("date %q is not a calendar date", s), err)
	}
	return t, nil
}

// IsLayerID reports whether s has the source identifier form v:x<digits>.
func IsLayerID(s string) bool {
	return layerIDFormat.MatchString(s)
}

// ResolveLayer maps a layer id or configured display name to its id.
func ResolveLayer(ctx context.Context, layers core.LayerConfig, name string) (string, error) {
	name = strings.TrimSpace(name)
	if IsLayerID(name) {
		return name, nil
	}
	ids, err := layers.LayerNames(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		display, err := layers.ReadProperty(ctx, id, core.PropName)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(display, name) {
			return id, nil
		}
	}
	return "", core.NewSyncError(core.ErrCodeConfiguration, name,
		"layer must be given as v:x#### or a configured layer name", nil)
}

// ParseEPSG validates an EPSG override. Blank means no override.
func ParseEPSG(s string) (core.SpatialReference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.SpatialReference{}, nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "EPSG:"))
	if err != nil || code <= 0 {
		return core.SpatialReference{}, core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("spatial reference %q is not an EPSG code", s), err)
	}
	return core.SpatialReference{EPSG: code}, nil
}

// precedence returns the first non-blank value.
func precedence(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
