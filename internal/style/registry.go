package style

import (
	"fmt"
	"sort"
)

// builtinPacks is the closed style table. It is validated once at package
// load; editing it is the only way to add or change a style.
var builtinPacks = []Pack{
	{
		ID:           PackSubject,
		Label:        "Subject Portrait",
		PromptPrefix: "expressive portrait of the creator, face clearly visible, exaggerated reaction, eyes toward camera",
		NegativeExtras: []string{
			"cropped head", "face obscured", "multiple faces",
		},
		ConflictsWith:  []string{PackMinimal},
		Priority:       80,
		PostProcessing: []string{"face_sharpen", "background_pop"},
		ProviderModel:  ProviderAny,
	},
	{
		ID:           PackHold,
		Label:        "Holding Product",
		PromptPrefix: "creator holding the featured object toward the camera, object in sharp focus, hands visible",
		NegativeExtras: []string{
			"floating object", "deformed hands", "extra fingers",
		},
		ConflictsWith:  []string{PackCompare},
		Priority:       75,
		PostProcessing: []string{"face_sharpen", "object_outline"},
		ProviderModel:  ProviderAny,
	},
	{
		ID:           PackCompare,
		Label:        "Side-by-side Comparison",
		PromptPrefix: "split frame comparison layout, two halves with a clean vertical divider, matching lighting on both sides",
		NegativeExtras: []string{
			"uneven split", "overlapping halves",
		},
		ConflictsWith:  []string{PackHold},
		Priority:       70,
		PostProcessing: []string{"divider_overlay", "label_slots"},
		ProviderModel:  "thumbforge/sd-compare:9f2b1c44",
		TrailingMarker: "COMPARE",
	},
	{
		ID:           PackBoldText,
		Label:        "Bold Text Space",
		PromptPrefix: "composition leaves a large clean area for headline text, strong single focal point pushed to one side",
		NegativeExtras: []string{
			"busy background", "centered subject",
		},
		ConflictsWith:  []string{},
		Priority:       60,
		PostProcessing: []string{"text_region_clear"},
		ProviderModel:  ProviderAny,
	},
	{
		ID:           PackNeon,
		Label:        "Neon Glow",
		PromptPrefix: "saturated neon rim lighting, glowing magenta and cyan accents, dark moody backdrop",
		NegativeExtras: []string{
			"flat lighting", "washed out colors",
		},
		ConflictsWith:  []string{PackMinimal, PackCinematic},
		Priority:       50,
		PostProcessing: []string{"glow_boost"},
		ProviderModel:  ProviderAny,
	},
	{
		ID:           PackCinematic,
		Label:        "Cinematic",
		PromptPrefix: "cinematic color grade, shallow depth of field, anamorphic framing, filmic contrast",
		NegativeExtras: []string{
			"oversaturated", "harsh flash lighting",
		},
		ConflictsWith:  []string{PackNeon},
		Priority:       45,
		PostProcessing: nil,
		ProviderModel:  ProviderAny,
	},
	{
		ID:           PackMinimal,
		Label:        "Minimal",
		PromptPrefix: "minimalist composition, single subject on a flat solid backdrop, generous negative space",
		NegativeExtras: []string{
			"clutter", "texture noise",
		},
		ConflictsWith:  []string{PackSubject, PackNeon},
		Priority:       40,
		PostProcessing: nil,
		ProviderModel:  ProviderAny,
	},
}

// Registry holds the validated style table.
type Registry struct {
	packs map[string]Pack
}

// NewRegistry validates the given table: unique ids, resolvable conflict
// references, and a label and prefix on every pack.
func NewRegistry(packs []Pack) (*Registry, error) {
	index := make(map[string]Pack, len(packs))
	for _, p := range packs {
		if p.ID == "" {
			return nil, fmt.Errorf("style: pack with empty id")
		}
		if _, dup := index[p.ID]; dup {
			return nil, fmt.Errorf("style: duplicate pack id %q", p.ID)
		}
		if p.Label == "" || p.PromptPrefix == "" {
			return nil, fmt.Errorf("style: pack %q missing label or prefix", p.ID)
		}
		if p.ProviderModel == "" {
			return nil, fmt.Errorf("style: pack %q missing provider preference", p.ID)
		}
		index[p.ID] = p
	}
	for _, p := range packs {
		for _, c := range p.ConflictsWith {
			if _, ok := index[c]; !ok {
				return nil, fmt.Errorf("style: pack %q conflicts with unknown pack %q", p.ID, c)
			}
		}
	}
	return &Registry{packs: index}, nil
}

var defaultRegistry = mustNewRegistry(builtinPacks)

func mustNewRegistry(packs []Pack) *Registry {
	r, err := NewRegistry(packs)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the registry built from the static table.
func Default() *Registry {
	return defaultRegistry
}

// Get returns the pack for the given id.
func (r *Registry) Get(id string) (Pack, bool) {
	p, ok := r.packs[id]
	return p, ok
}

// IDs returns all registered pack ids in deterministic order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RequestedPacks derives the candidate pack id set from the two user
// controls. The primary control takes precedence: when both map to packs its
// pack is listed first, and a duplicate selection collapses to one entry.
// Unknown control values are dropped here and rejected later by Resolve
// callers that required them.
func (r *Registry) RequestedPacks(primary, secondary string) []string {
	var ids []string
	if _, ok := r.packs[primary]; ok {
		ids = append(ids, primary)
	}
	if secondary != primary {
		if _, ok := r.packs[secondary]; ok {
			ids = append(ids, secondary)
		}
	}
	return ids
}
