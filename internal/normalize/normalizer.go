// Package normalize maps raw source records onto the canonical camera schema.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gearshed/camsync/internal/catalog"
)

// Normalizer is a pure raw-to-canonical mapper. It holds only immutable
// mapping tables and is safe for concurrent use.
type Normalizer struct {
	shapes map[string]shape
}

// New builds a Normalizer with the built-in shape tables.
func New() *Normalizer {
	return &Normalizer{shapes: builtinShapes()}
}

// Normalize converts one raw record into a CameraRecord or rejects it with a
// catalog.SkipError. The dedup key is deterministic: records describing the
// same logical camera normalize to the same ID regardless of which optional
// fields each source supplies.
func (n *Normalizer) Normalize(raw catalog.RawRecord, src catalog.Source) (catalog.CameraRecord, error) {
	sh, ok := n.shapes[src.Shape]
	if !ok {
		sh = n.shapes[ShapeCatalogV1]
	}

	brand := firstString(raw.Fields, sh.brand)
	model := firstString(raw.Fields, sh.model)
	if brand == "" {
		return catalog.CameraRecord{}, catalog.Skip("missing brand")
	}
	if model == "" {
		return catalog.CameraRecord{}, catalog.Skip("missing model")
	}

	rec := catalog.CameraRecord{
		Brand:  strings.TrimSpace(brand),
		Model:  strings.TrimSpace(model),
		Status: statusForTrust(src.Trust),
	}

	rec.FullName = firstString(raw.Fields, sh.fullName)
	if rec.FullName == "" {
		rec.FullName = rec.Brand + " " + rec.Model
	}

	rec.ReleaseYear = firstInt(raw.Fields, sh.releaseYear)
	rec.ID = DedupKey(rec.Brand, rec.Model, rec.ReleaseYear)

	rec.Category = optString(firstString(raw.Fields, sh.category))
	rec.MSRP = firstPrice(raw.Fields, sh.msrp)
	rec.CurrentPrice = firstPrice(raw.Fields, sh.currentPrice)
	if s := firstString(raw.Fields, sh.sensor); s != "" {
		canonical := CanonicalSensor(s)
		rec.Sensor = &canonical
	}
	rec.Processor = optString(firstString(raw.Fields, sh.processor))
	rec.Mount = optString(firstString(raw.Fields, sh.mount))
	rec.ManualURL = optString(firstString(raw.Fields, sh.manualURL))
	rec.KeyFeatures = firstStringSlice(raw.Fields, sh.keyFeatures)
	rec.Specs = normalizeSpecs(firstMap(raw.Fields, sh.specs))
	rec.ImageURL = optString(firstString(raw.Fields, sh.imageURL))
	rec.ImageAuthor = optString(firstString(raw.Fields, sh.imageAuthor))
	rec.ImageLicense = optString(firstString(raw.Fields, sh.imageLicense))

	return rec, nil
}

// DedupKey computes the stable camera identifier from the normalized brand,
// model, and optional release year.
func DedupKey(brand, model string, year *int) string {
	key := slug(brand) + "-" + slug(model)
	if year != nil && *year > 0 {
		key = fmt.Sprintf("%s-%d", key, *year)
	}
	return key
}

// CanonicalSensor folds a source's sensor wording into the canonical
// vocabulary, passing unknown values through trimmed.
func CanonicalSensor(s string) string {
	trimmed := strings.TrimSpace(s)
	if canonical, ok := sensorVocabulary[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

func statusForTrust(trust catalog.Trust) catalog.Status {
	if trust == catalog.TrustVerified {
		return catalog.StatusVerified
	}
	return catalog.StatusRumor
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstInt(fields map[string]any, keys []string) *int {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case int:
			return &t
		case float64:
			i := int(t)
			return &i
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return &i
			}
		}
	}
	return nil
}

var priceCleaner = strings.NewReplacer("$", "", ",", "", "USD", "", " ", "")

func firstPrice(fields map[string]any, keys []string) *float64 {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return &t
		case int:
			f := float64(t)
			return &f
		case string:
			if f, err := strconv.ParseFloat(priceCleaner.Replace(t), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func firstStringSlice(fields map[string]any, keys []string) []string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []string:
			return t
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func firstMap(fields map[string]any, keys []string) map[string]any {
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			if m, ok := v.(map[string]any); ok && len(m) > 0 {
				return m
			}
		}
	}
	return nil
}

var framerateRe = regexp.MustCompile(`(?i)^(\d+)\s*(fps|p)$`)

// normalizeSpecs applies unit normalization to the opaque spec blob. Only
// values with a recognized unit are rewritten; everything else passes through.
func normalizeSpecs(specs map[string]any) map[string]any {
	if specs == nil {
		return nil
	}
	out := make(map[string]any, len(specs))
	for k, v := range specs {
		if s, ok := v.(string); ok {
			if m := framerateRe.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
				out[k] = m[1] + "p"
				continue
			}
		}
		out[k] = v
	}
	return out
}
