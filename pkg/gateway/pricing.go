package gateway

import "github.com/stackboard/agentd/internal/config"

// pricing converts token counts into money using the profile's per-million
// token prices.
type pricing struct {
	inputPerMTok     float64
	outputPerMTok    float64
	billedMultiplier float64
}

func newPricing(profile config.AIProfile, billedMultiplier float64) pricing {
	if billedMultiplier <= 0 {
		billedMultiplier = 1
	}
	return pricing{
		inputPerMTok:     profile.InputPricePerMTok,
		outputPerMTok:    profile.OutputPricePerMTok,
		billedMultiplier: billedMultiplier,
	}
}

// usage builds a Usage record for one call's token counts.
func (p pricing) usage(inputTokens, outputTokens int) Usage {
	cost := float64(inputTokens)/1e6*p.inputPerMTok + float64(outputTokens)/1e6*p.outputPerMTok
	return Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		ProviderCost: cost,
		BilledAmount: cost * p.billedMultiplier,
	}
}
