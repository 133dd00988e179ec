package stepper

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// modelPricing is one entry in the pricing table backing §8's Cost testable
// property: dollars per million tokens, input and output priced separately,
// keyed by a model-name prefix rather than an exact name so a family like
// "gpt-4o-mini-2024-07-18" matches its shorter "gpt-4o-mini" entry.
type modelPricing struct {
	Prefix           string  `yaml:"prefix"`
	InputPerMillion  float64 `yaml:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"outputPerMillion"`
}

// defaultPricingTable mirrors the providers internal/llm/providers wires up
// (openai, anthropic, google) at the rates published when this table was
// written. Longest-prefix-match in lookupPricing means entry order here
// doesn't matter for correctness, only for readability.
var defaultPricingTable = []modelPricing{
	{Prefix: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.60},
	{Prefix: "gpt-4o", InputPerMillion: 2.50, OutputPerMillion: 10.00},
	{Prefix: "gpt-4.1-mini", InputPerMillion: 0.40, OutputPerMillion: 1.60},
	{Prefix: "gpt-4.1", InputPerMillion: 2.00, OutputPerMillion: 8.00},
	{Prefix: "o3-mini", InputPerMillion: 1.10, OutputPerMillion: 4.40},
	{Prefix: "o3", InputPerMillion: 10.00, OutputPerMillion: 40.00},
	{Prefix: "claude-3-5-haiku", InputPerMillion: 0.80, OutputPerMillion: 4.00},
	{Prefix: "claude-3-5-sonnet", InputPerMillion: 3.00, OutputPerMillion: 15.00},
	{Prefix: "claude-3-opus", InputPerMillion: 15.00, OutputPerMillion: 75.00},
	{Prefix: "gemini-1.5-flash", InputPerMillion: 0.075, OutputPerMillion: 0.30},
	{Prefix: "gemini-1.5-pro", InputPerMillion: 1.25, OutputPerMillion: 5.00},
	{Prefix: "gemini-2.0-flash", InputPerMillion: 0.10, OutputPerMillion: 0.40},
}

// loadPricingTable reads an optional YAML override of the same shape as
// defaultPricingTable (cfg.StepLoop.PricingTablePath, §8 "Cost"). An empty
// path or unreadable file falls back to defaultPricingTable rather than
// failing the run.
func loadPricingTable(path string) []modelPricing {
	if strings.TrimSpace(path) == "" {
		return defaultPricingTable
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("stepper_pricing_table_unreadable_using_default")
		return defaultPricingTable
	}
	var table []modelPricing
	if err := yaml.Unmarshal(data, &table); err != nil || len(table) == 0 {
		log.Warn().Err(err).Str("path", path).Msg("stepper_pricing_table_invalid_using_default")
		return defaultPricingTable
	}
	return table
}

// lookupPricing finds the longest Prefix in table matching model (§8 Cost:
// longest-prefix match; a model with no matching entry prices at zero).
func lookupPricing(model string, table []modelPricing) (modelPricing, bool) {
	best := -1
	var found modelPricing
	for _, p := range table {
		if p.Prefix != "" && strings.HasPrefix(model, p.Prefix) && len(p.Prefix) > best {
			best = len(p.Prefix)
			found = p
		}
	}
	return found, best >= 0
}

// stepCost computes §8's Cost property for one model call: (in/1e6)*inRate +
// (out/1e6)*outRate, zero for a model the table doesn't know about.
func stepCost(model string, inputTokens, outputTokens int, table []modelPricing) float64 {
	p, ok := lookupPricing(model, table)
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1_000_000)*p.InputPerMillion + (float64(outputTokens)/1_000_000)*p.OutputPerMillion
}
