package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	ilogger "repairbench/internal/logger"
)

// ModelPricing holds per-token cost for one model.
type ModelPricing struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
}

// PricingConfig maps model names to their pricing.
type PricingConfig struct {
	Models map[string]ModelPricing `json:"models"`
}

var defaultPricingConfig = PricingConfig{
	Models: map[string]ModelPricing{
		"gpt-3.5-turbo-0125": {InputCostPerToken: 0.0000005, OutputCostPerToken: 0.0000015},
		"gpt-4-0125-preview": {InputCostPerToken: 0.00001, OutputCostPerToken: 0.00003},
		"gpt-4o-2024-05-13":  {InputCostPerToken: 0.000005, OutputCostPerToken: 0.000015},
	},
}

var (
	pricingOnce   sync.Once
	pricingCached *PricingConfig
)

func pricingConfig() *PricingConfig {
	pricingOnce.Do(func() {
		pricingCached = loadPricingConfig()
	})
	if pricingCached == nil {
		return &defaultPricingConfig
	}
	return pricingCached
}

// loadPricingConfig reads $HOME/.repairbench/pricing.json. Missing or broken
// files fall back to the built-in table.
func loadPricingConfig() *PricingConfig {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return &defaultPricingConfig
	}

	configDir := filepath.Clean(filepath.Join(home, ".repairbench"))
	configPath := filepath.Clean(filepath.Join(configDir, "pricing.json"))
	rel, err := filepath.Rel(configDir, configPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return &defaultPricingConfig
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- path is fixed under user home and validated to stay within configDir
	if err != nil {
		if !os.IsNotExist(err) {
			ilogger.LogWarn(fmt.Sprintf("Failed to read pricing config %s: %v; using defaults", configPath, err))
		}
		return &defaultPricingConfig
	}

	var cfg PricingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		ilogger.LogWarn(fmt.Sprintf("Failed to parse pricing config %s: %v; using defaults", configPath, err))
		return &defaultPricingConfig
	}
	if len(cfg.Models) == 0 {
		return &defaultPricingConfig
	}

	// User entries override defaults; unknown defaults remain available.
	merged := PricingConfig{Models: make(map[string]ModelPricing, len(defaultPricingConfig.Models)+len(cfg.Models))}
	for name, p := range defaultPricingConfig.Models {
		merged.Models[name] = p
	}
	for name, p := range cfg.Models {
		merged.Models[name] = p
	}
	return &merged
}

// PricingFor returns the pricing entry for a model. Unknown models cost
// zero, so runs against unpriced models still produce a cost record.
func PricingFor(model string) ModelPricing {
	if p, ok := pricingConfig().Models[strings.TrimSpace(model)]; ok {
		return p
	}
	return ModelPricing{}
}

// KnownModels returns the model names present in the pricing table, sorted.
func KnownModels() []string {
	cfg := pricingConfig()
	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetPricingCacheForTest clears the cached pricing table.
func ResetPricingCacheForTest() {
	pricingOnce = sync.Once{}
	pricingCached = nil
}
