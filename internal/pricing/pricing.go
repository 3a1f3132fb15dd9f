package pricing

// Rate holds USD prices per single token for one model.
type Rate struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Table maps model name to its token rates. Built once at startup and never
// mutated afterwards.
type Table map[string]Rate

const perMillion = 1_000_000

// Default returns the built-in pricing table, USD per million tokens.
func Default() Table {
	return Table{
		"gpt-5-nano":    {InputPerToken: 0.05 / perMillion, OutputPerToken: 0.40 / perMillion},
		"gpt-5-mini":    {InputPerToken: 0.25 / perMillion, OutputPerToken: 2.00 / perMillion},
		"gpt-3.5-turbo": {InputPerToken: 0.50 / perMillion, OutputPerToken: 1.50 / perMillion},
	}
}

// Cost computes the USD cost of a call. Unknown models price at zero; usage
// on them passes unmetered under the cap. Flagged for product review, kept
// as-is for compatibility.
func (t Table) Cost(tokensIn, tokensOut int, model string) float64 {
	rate, ok := t[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)*rate.InputPerToken + float64(tokensOut)*rate.OutputPerToken
}
