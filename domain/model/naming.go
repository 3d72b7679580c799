package model

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxNameLength is the maximum length of a normalized name, before collision suffixes.
	MaxNameLength = 60
	// PlaceholderName replaces names that normalize to nothing.
	PlaceholderName = "col"
	// TableSeparator joins the dataset and sheet parts of a table name.
	TableSeparator = "__"
	// DefaultSheetName is the sheet name used when a document root is an array.
	DefaultSheetName = "data"
)

// NormalizeName converts an identifier into a stable snake_case name.
//
// Accents are folded ("Café" becomes "cafe"), letters are lowercased, every run of
// characters outside [a-z0-9] becomes a single underscore, and leading/trailing
// underscores are removed. The result is at most MaxNameLength bytes and never empty.
func NormalizeName(raw string) string {
	folded := foldAccents(raw)

	var b strings.Builder
	b.Grow(len(folded))
	pendingUnderscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingUnderscore = false
			b.WriteRune(r)
			continue
		}
		pendingUnderscore = true
	}

	name := b.String()
	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], "_")
	}
	if name == "" {
		return PlaceholderName
	}
	return name
}

// foldAccents strips combining marks after canonical decomposition.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// TableName builds the materialized table name for a dataset sheet.
func TableName(dataset, sheet string) string {
	return NormalizeName(dataset) + TableSeparator + NormalizeName(sheet)
}

// SplitTableName splits a table name built by TableName into its dataset and sheet parts.
func SplitTableName(table string) (dataset, sheet string, ok bool) {
	dataset, sheet, ok = strings.Cut(table, TableSeparator)
	if !ok || dataset == "" || sheet == "" {
		return "", "", false
	}
	return dataset, sheet, true
}

// IsReservedName reports whether name can never be produced by NormalizeName.
// Internal tables and columns use such names.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// NameAllocator hands out unique normalized names within one table.
// The first occurrence of a normalized name keeps it; later ones receive
// numeric suffixes "_2", "_3", ... in allocation order.
type NameAllocator struct {
	used map[string]struct{}
}

// NewNameAllocator creates an empty allocator.
func NewNameAllocator() *NameAllocator {
	return &NameAllocator{used: make(map[string]struct{})}
}

// Allocate normalizes raw and returns a name not handed out before.
func (a *NameAllocator) Allocate(raw string) string {
	base := NormalizeName(raw)
	name := base
	for n := 2; ; n++ {
		if _, taken := a.used[name]; !taken {
			break
		}
		name = base + "_" + strconv.Itoa(n)
	}
	a.used[name] = struct{}{}
	return name
}
