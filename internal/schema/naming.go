package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

var (
	unsafeNameChars = regexp.MustCompile(`[ \-,.\\/:;{}()\[\]]`)
	repeatedUnder   = regexp.MustCompile(`_+`)
)

// foldDiacritics strips combining marks, e.g. "Māori" -> "Maori".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Sanitise converts a display name into a table name that every destination accepts.
// Distinct names may collide, e.g. "A-B-C" and "a::{b}::c" both become "a_b_c".
func Sanitise(name string) string {
	name = foldDiacritics(name)
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	s := unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_")
	s = repeatedUnder.ReplaceAllString(s, "_")
	return strings.TrimRight(s, "_")
}

// IndexStatement renders the CREATE INDEX statement for a layer's configured index.
// It returns "" when spec requests nothing that can be built.
func IndexStatement(table string, spec core.IndexSpec, quote func(string) string) string {
	parts := core.SplitList(spec.Spec)
	if len(parts) == 0 {
		return ""
	}
	has := func(names ...string) bool {
		for _, p := range parts {
			for _, n := range names {
				if strings.EqualFold(p, n) {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("spatial", "s") && spec.GeometryColumn != "":
		return fmt.Sprintf("CREATE INDEX %s ON %s(%s)",
			quote(table+"_"+spec.GeometryColumn+"_SK"), quote(table), quote(spec.GeometryColumn))
	case has("primary", "pkey", "p"):
		if spec.PrimaryKey == "" {
			return ""
		}
		return fmt.Sprintf("CREATE INDEX %s ON %s(%s)",
			quote(table+"_"+spec.PrimaryKey+"_PK"), quote(table), quote(spec.PrimaryKey))
	case has("spatial", "s"):
		return ""
	default:
		cols := make([]string, len(parts))
		for i, p := range parts {
			cols[i] = quote(p)
		}
		return fmt.Sprintf("CREATE INDEX %s ON %s(%s)",
			quote(table+"_"+Sanitise(strings.Join(parts, ","))+"_PK"), quote(table), strings.Join(cols, ","))
	}
}
