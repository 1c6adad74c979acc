package prompt

import "fmt"

// fallbackTable is the deterministic per-index variant table used whenever
// the LLM port is unavailable, returns malformed JSON, or bypass mode is on.
// The index semantics are fixed: 1 tight close-up, 2 medium shot with a prop,
// 3 more negative space, 4 dramatic angle.
var fallbackTable = [MaxVariants]VariantDescription{
	{
		Scene:       "the requested subject filling most of the frame",
		Composition: "tight close-up, subject centered",
		Lighting:    "bright key light with soft fill",
		Background:  "softly blurred backdrop",
		Camera:      "85mm portrait lens, eye level",
		Props:       "",
		Avoid:       []string{"clutter", "small subject"},
	},
	{
		Scene:       "the requested subject interacting with a relevant object",
		Composition: "medium shot, subject on the left third, prop on the right",
		Lighting:    "even studio lighting",
		Background:  "simple complementary backdrop",
		Camera:      "50mm lens, slight high angle",
		Props:       "one hero prop relevant to the topic",
		Avoid:       []string{"empty hands"},
	},
	{
		Scene:       "the requested subject small against open space",
		Composition: "subject on one side, generous negative space for overlays",
		Lighting:    "flat soft lighting",
		Background:  "clean single-color field",
		Camera:      "35mm lens, straight on",
		Props:       "",
		Avoid:       []string{"busy background", "centered subject"},
	},
	{
		Scene:       "the requested subject mid-action at a striking angle",
		Composition: "dramatic low angle, strong diagonal lines",
		Lighting:    "hard rim light with deep shadows",
		Background:  "dark atmospheric backdrop",
		Camera:      "24mm wide lens, tilted frame",
		Props:       "",
		Avoid:       []string{"flat perspective"},
	},
}

// fallbackNotes names each template position for the variation note.
var fallbackNotes = [MaxVariants]string{
	"tight close-up",
	"medium shot with prop",
	"negative space layout",
	"dramatic angle",
}

// FallbackVariants returns count deterministic descriptions from the template
// table, one per index position.
func FallbackVariants(count int) []VariantDescription {
	if count < MinVariants {
		count = MinVariants
	}
	if count > MaxVariants {
		count = MaxVariants
	}
	out := make([]VariantDescription, count)
	copy(out, fallbackTable[:count])
	return out
}

func fallbackNote(index int) string {
	if index < 0 || index >= len(fallbackNotes) {
		return fmt.Sprintf("variant %d", index+1)
	}
	return fallbackNotes[index]
}
