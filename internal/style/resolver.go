package style

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// PositivePromptBudget caps the composed positive prompt length.
	PositivePromptBudget = 700

	// safetyClause is always appended so generated frames stay free of baked-in
	// text and watermarks regardless of the selected packs.
	safetyClause = "no embedded text, no captions, no watermark, no logo"
)

// baseNegative applies to every composition before pack additions.
var baseNegative = []string{
	"low quality", "blurry", "jpeg artifacts", "oversharpened", "distorted",
}

// universalNegative closes every negative prompt with anatomy and watermark
// constraints.
var universalNegative = []string{
	"bad anatomy", "extra limbs", "watermark", "signature", "text overlay",
}

// Resolution is the composed outcome of resolving a set of requested packs.
type Resolution struct {
	// Packs holds the kept packs in descending priority order.
	Packs []Pack
	// PostProcessing is the ordered union of kept packs' step lists.
	PostProcessing []string
	// ProviderModel is the first kept non-any preference, or empty.
	ProviderModel string
	// TrailingMarker is the first kept pack's marker, or empty.
	TrailingMarker string
}

// RequiresPostProcessing reports whether any kept pack demands it.
func (res Resolution) RequiresPostProcessing() bool {
	return len(res.PostProcessing) > 0
}

// PrimaryID returns the highest-priority kept pack id, or empty.
func (res Resolution) PrimaryID() string {
	if len(res.Packs) == 0 {
		return ""
	}
	return res.Packs[0].ID
}

// IdentityCompatible reports whether any kept pack permits identity use.
func (res Resolution) IdentityCompatible() bool {
	for _, p := range res.Packs {
		if p.IdentityCompatible() {
			return true
		}
	}
	return false
}

// Resolve turns a requested pack id set into a consistent composition.
// Candidates are sorted by descending priority and kept greedily unless they
// appear in the conflicts-with set of an already-kept higher-priority pack.
// Unknown ids are an error; an empty request resolves to an empty Resolution.
func (r *Registry) Resolve(ids []string) (Resolution, error) {
	candidates := make([]Pack, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, ok := r.packs[id]
		if !ok {
			return Resolution{}, fmt.Errorf("style: unknown pack %q", id)
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var res Resolution
	blocked := make(map[string]struct{})
	for _, p := range candidates {
		if _, conflict := blocked[p.ID]; conflict {
			continue
		}
		res.Packs = append(res.Packs, p)
		for _, c := range p.ConflictsWith {
			blocked[c] = struct{}{}
		}
		res.PostProcessing = append(res.PostProcessing, p.PostProcessing...)
		if res.ProviderModel == "" && p.ProviderModel != ProviderAny {
			res.ProviderModel = p.ProviderModel
		}
		if res.TrailingMarker == "" && p.TrailingMarker != "" {
			res.TrailingMarker = p.TrailingMarker
		}
	}
	return res, nil
}

// ComposePositive builds the positive prompt: kept prefixes in priority
// order, the scene text, the universal safety clause, and the mandatory
// trailing marker when one applies, clamped to the character budget.
func (res Resolution) ComposePositive(scene string) string {
	parts := make([]string, 0, len(res.Packs)+2)
	for _, p := range res.Packs {
		parts = append(parts, p.PromptPrefix)
	}
	scene = strings.TrimSpace(scene)
	if scene != "" {
		parts = append(parts, scene)
	}
	parts = append(parts, safetyClause)
	composed := strings.Join(parts, ", ")
	return ClampPrompt(composed, res.TrailingMarker, PositivePromptBudget)
}

// ComposeNegative builds the negative prompt from the base list, each kept
// pack's additions, and the universal constraints, deduplicated in order.
func (res Resolution) ComposeNegative() string {
	var parts []string
	seen := make(map[string]struct{})
	add := func(items []string) {
		for _, item := range items {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			parts = append(parts, item)
		}
	}
	add(baseNegative)
	for _, p := range res.Packs {
		add(p.NegativeExtras)
	}
	add(universalNegative)
	return strings.Join(parts, ", ")
}

// ClampPrompt truncates s to at most budget characters. When a marker is
// given the clamp reserves room so the result still ends with the marker,
// cutting the body at a word boundary where possible.
func ClampPrompt(s, marker string, budget int) string {
	if marker != "" && !strings.HasSuffix(s, marker) {
		s = s + " " + marker
	}
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	if marker == "" {
		return trimAtWord(s, budget)
	}
	reserve := utf8.RuneCountInString(marker) + 1
	if reserve >= budget {
		return marker
	}
	body := trimAtWord(strings.TrimSuffix(s, marker), budget-reserve)
	return strings.TrimRight(body, " ,") + " " + marker
}

func trimAtWord(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := string([]rune(s)[:limit])
	if idx := strings.LastIndexAny(cut, " ,"); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,")
}
