package prompt

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"thumbforge/internal/infra"
	"thumbforge/internal/style"
)

// Variant is one fully composed per-variant prompt bundle.
type Variant struct {
	Index          int
	FinalPrompt    string
	NegativePrompt string
	VariationNote  string
	ProviderParams map[string]any
}

// Composer turns a resolved style plus free text into per-variant prompts.
// The LLM port is best-effort only: any failure, malformed payload, or
// explicit bypass falls through to the deterministic template table, and that
// recovery is invisible to callers.
type Composer struct {
	generator VariantGenerator
	logger    infra.Logger
	bypass    bool
}

// NewComposer builds a composer. A nil generator enables bypass mode.
func NewComposer(generator VariantGenerator, logger infra.Logger) *Composer {
	return &Composer{
		generator: generator,
		logger:    logger,
		bypass:    generator == nil,
	}
}

var titleCaser = cases.Title(language.English)

// Compose produces exactly count variants (clamped to the 1..4 window).
func (c *Composer) Compose(ctx context.Context, res style.Resolution, triggerWord, freeText string, count int) []Variant {
	if count < MinVariants {
		count = MinVariants
	}
	if count > MaxVariants {
		count = MaxVariants
	}
	scene := SanitizeFreeText(freeText)

	descs, notes := c.describe(ctx, res, triggerWord, scene, count)

	variants := make([]Variant, count)
	for i := 0; i < count; i++ {
		desc := descs[i]
		sceneText := buildSceneText(triggerWord, scene, desc)
		variants[i] = Variant{
			Index:          i,
			FinalPrompt:    res.ComposePositive(sceneText),
			NegativePrompt: composeNegative(res, desc.Avoid),
			VariationNote:  notes[i],
			ProviderParams: map[string]any{
				"num_outputs":    1,
				"guidance_scale": 7.5,
			},
		}
	}
	return variants
}

// describe asks the generator for structured variants and falls back to the
// template table on any failure. Parse failure and call failure are treated
// identically.
func (c *Composer) describe(ctx context.Context, res style.Resolution, triggerWord, scene string, count int) ([]VariantDescription, []string) {
	if !c.bypass {
		req := VariantRequest{
			Scene:       scene,
			StyleLabel:  styleLabel(res),
			TriggerWord: triggerWord,
			Count:       count,
		}
		descs, err := c.generator.Variants(ctx, req)
		if err == nil && len(descs) >= count {
			descs = descs[:count]
			if validAll(descs) {
				notes := make([]string, count)
				for i := range notes {
					notes[i] = fmt.Sprintf("%s variant %d", titleCaser.String(req.StyleLabel), i+1)
				}
				return descs, notes
			}
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("prompt: variant generator failed, using template table")
		} else {
			c.logger.Debug().Int("returned", len(descs)).Int("requested", count).Msg("prompt: variant payload rejected, using template table")
		}
	}

	descs := FallbackVariants(count)
	notes := make([]string, count)
	for i := range notes {
		notes[i] = fallbackNote(i)
	}
	return descs, notes
}

func validAll(descs []VariantDescription) bool {
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return false
		}
	}
	return true
}

func styleLabel(res style.Resolution) string {
	if len(res.Packs) == 0 {
		return "freestyle"
	}
	return res.Packs[0].Label
}

func buildSceneText(triggerWord, scene string, desc VariantDescription) string {
	parts := make([]string, 0, 7)
	if triggerWord != "" {
		parts = append(parts, fmt.Sprintf("photo of %s person", triggerWord))
	}
	if scene != "" {
		parts = append(parts, scene)
	}
	for _, s := range []string{desc.Scene, desc.Composition, desc.Lighting, desc.Background, desc.Camera, desc.Props} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func composeNegative(res style.Resolution, avoid []string) string {
	negative := res.ComposeNegative()
	extra := make([]string, 0, len(avoid))
	lower := strings.ToLower(negative)
	for _, a := range avoid {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(lower, strings.ToLower(a)) {
			continue
		}
		extra = append(extra, a)
	}
	if len(extra) == 0 {
		return negative
	}
	return negative + ", " + strings.Join(extra, ", ")
}

// SanitizeFreeText strips control characters, collapses whitespace, and
// clamps the result to the free-text budget.
func SanitizeFreeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if utf8.RuneCountInString(cleaned) > MaxFreeTextLen {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxFreeTextLen]))
	}
	return cleaned
}
