package style

// ProviderAny marks a pack with no provider model preference.
const ProviderAny = "any"

// Pack is one immutable, statically registered style configuration. Packs
// contribute prompt text, negative-prompt text, a post-processing recipe, and
// a provider preference to every job that selects them.
type Pack struct {
	ID             string
	Label          string
	PromptPrefix   string
	NegativeExtras []string
	ConflictsWith  []string
	// Priority orders packs during conflict resolution; higher wins.
	Priority       int
	PostProcessing []string
	// ProviderModel pins the pack to a provider model version, or ProviderAny.
	ProviderModel string
	// TrailingMarker, when set, must survive prompt truncation and end the
	// composed prompt. Downstream post-processing keys off it.
	TrailingMarker string
}

// IdentityCompatible reports whether an identity model's trigger word may be
// woven into prompts for this pack. Only person-centric packs qualify.
func (p Pack) IdentityCompatible() bool {
	return p.ID == PackSubject || p.ID == PackHold
}

// Well-known pack ids referenced across the pipeline.
const (
	PackSubject   = "subject"
	PackHold      = "hold"
	PackCompare   = "compare"
	PackBoldText  = "bold_text"
	PackMinimal   = "minimal"
	PackNeon      = "neon"
	PackCinematic = "cinematic"
)
