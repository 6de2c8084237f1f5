package planning

// ModuleConfig enables one pluggable module and carries its parameter
// overrides, merged over the module's defaults.
type ModuleConfig struct {
	Enabled bool               `json:"enabled"`
	Params  map[string]float64 `json:"params,omitempty"`
}

// Configuration selects and parameterizes the opportunity calculators,
// sequence patterns, generators and filters. Switching profiles changes
// the module set and parameters, never the framework.
type Configuration struct {
	Name string `json:"name"`

	Calculators map[string]ModuleConfig `json:"calculators"`
	Patterns    map[string]ModuleConfig `json:"patterns"`
	Generators  map[string]ModuleConfig `json:"generators"`
	Filters     map[string]ModuleConfig `json:"filters"`

	MaxOpportunitiesPerCategory int `json:"max_opportunities_per_category"`
	MaxPlanDepth                int `json:"max_plan_depth"`
}

// Enabled reports whether a module is switched on in the given table.
func moduleEnabled(table map[string]ModuleConfig, name string) bool {
	mc, ok := table[name]
	return ok && mc.Enabled
}

// MergedParams overlays the configured params on the module defaults.
func MergedParams(defaults map[string]float64, table map[string]ModuleConfig, name string) map[string]float64 {
	merged := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	if mc, ok := table[name]; ok {
		for k, v := range mc.Params {
			merged[k] = v
		}
	}
	return merged
}

// CalculatorEnabled reports whether an opportunity calculator is enabled.
func (c *Configuration) CalculatorEnabled(name string) bool {
	return moduleEnabled(c.Calculators, name)
}

// PatternEnabled reports whether a sequence pattern is enabled.
func (c *Configuration) PatternEnabled(name string) bool {
	return moduleEnabled(c.Patterns, name)
}

// GeneratorEnabled reports whether a sequence generator is enabled.
func (c *Configuration) GeneratorEnabled(name string) bool {
	return moduleEnabled(c.Generators, name)
}

// FilterEnabled reports whether a sequence filter is enabled.
func (c *Configuration) FilterEnabled(name string) bool {
	return moduleEnabled(c.Filters, name)
}

func enabledAll(names ...string) map[string]ModuleConfig {
	table := make(map[string]ModuleConfig, len(names))
	for _, n := range names {
		table[n] = ModuleConfig{Enabled: true}
	}
	return table
}

// BalancedConfiguration is the default profile: every module enabled
// with its default parameters.
func BalancedConfiguration() *Configuration {
	return &Configuration{
		Name: "balanced",
		Calculators: enabledAll("profit_taking", "averaging_down", "opportunity_buys",
			"rebalance_buys", "rebalance_sells"),
		Patterns: enabledAll("direct_buy", "single_best", "profit_taking",
			"opportunity_first", "cash_generation", "cost_optimized", "deep_rebalance"),
		Generators:                  enabledAll("combinatorial", "enhanced_combinatorial"),
		Filters:                     enabledAll("correlation_aware"),
		MaxOpportunitiesPerCategory: 5,
		MaxPlanDepth:                5,
	}
}

// ConservativeConfiguration trims the aggressive modules and tightens
// the combinatorial caps.
func ConservativeConfiguration() *Configuration {
	cfg := BalancedConfiguration()
	cfg.Name = "conservative"
	cfg.Calculators["opportunity_buys"] = ModuleConfig{
		Enabled: true,
		Params:  map[string]float64{"min_score": 0.80},
	}
	cfg.Patterns["opportunity_first"] = ModuleConfig{Enabled: false}
	cfg.Generators["enhanced_combinatorial"] = ModuleConfig{Enabled: false}
	cfg.Generators["combinatorial"] = ModuleConfig{
		Enabled: true,
		Params:  map[string]float64{"max_sells": 1, "max_buys": 2},
	}
	cfg.MaxOpportunitiesPerCategory = 3
	return cfg
}

// AggressiveConfiguration loosens score gates and widens search caps.
func AggressiveConfiguration() *Configuration {
	cfg := BalancedConfiguration()
	cfg.Name = "aggressive"
	cfg.Calculators["opportunity_buys"] = ModuleConfig{
		Enabled: true,
		Params:  map[string]float64{"min_score": 0.60},
	}
	cfg.Generators["combinatorial"] = ModuleConfig{
		Enabled: true,
		Params:  map[string]float64{"max_sells": 3, "max_buys": 4, "max_steps": 6},
	}
	cfg.MaxOpportunitiesPerCategory = 8
	return cfg
}

// ConfigurationForProfile maps a risk profile name to its module profile.
// Unknown names fall back to balanced.
func ConfigurationForProfile(profile string) *Configuration {
	switch profile {
	case "conservative":
		return ConservativeConfiguration()
	case "aggressive":
		return AggressiveConfiguration()
	default:
		return BalancedConfiguration()
	}
}
