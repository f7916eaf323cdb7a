package reputation

import "github.com/mikey/mail-trust/internal/core"

// ResolutionPolicy decides how a confident reputation interacts with the pipeline's category
type ResolutionPolicy string

const (
	// PolicyOverride lets a confident reputation win outright. This is a hard
	// override, not a weighted blend: a sender whose behavior genuinely shifts
	// keeps its old category until the new one overtakes it in the score list.
	PolicyOverride ResolutionPolicy = "override"

	// PolicyBlend lets a confident reputation win only when it is at least as
	// confident as the pipeline decision.
	PolicyBlend ResolutionPolicy = "blend"
)

// ParsePolicy returns the named policy, defaulting to PolicyOverride
func ParsePolicy(s string) ResolutionPolicy {
	if ResolutionPolicy(s) == PolicyBlend {
		return PolicyBlend
	}
	return PolicyOverride
}

// PipelineDecision is the category the classification pipeline computed independently
type PipelineDecision struct {
	Category   core.Category
	Source     core.ClassificationSource
	Confidence float64
}

// Resolution is the final category decision
type Resolution struct {
	FinalCategory core.Category
	Source        core.ClassificationSource
	Confidence    float64
}

// ResolveCategory resolves with the default override policy
func ResolveCategory(pipeline PipelineDecision, lookup LookupResult) Resolution {
	return PolicyOverride.Resolve(pipeline, lookup)
}

// Resolve is a pure function of its inputs, so repeated calls agree
func (p ResolutionPolicy) Resolve(pipeline PipelineDecision, lookup LookupResult) Resolution {
	if lookup.ShouldUseReputation && lookup.Reputation != nil && lookup.SuggestedCategory != "" {
		reputationWins := true
		if p == PolicyBlend && pipeline.Category != "" {
			reputationWins = lookup.Reputation.Confidence >= pipeline.Confidence
		}
		if reputationWins {
			return Resolution{
				FinalCategory: lookup.SuggestedCategory,
				Source:        core.SourceSenderReputation,
				Confidence:    lookup.Reputation.Confidence,
			}
		}
	}

	return Resolution{
		FinalCategory: pipeline.Category,
		Source:        pipeline.Source,
		Confidence:    pipeline.Confidence,
	}
}
