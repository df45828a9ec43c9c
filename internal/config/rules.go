package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atmx/trade-engine/internal/rules"
)

// RulesFile is the YAML document holding the base policy and both rule
// modules.
type RulesFile struct {
	Trading      rules.Trading `yaml:"trading"`
	TradingRules rules.Module  `yaml:"trading_rules"`
	SignalRules  rules.Module  `yaml:"signal_rules"`
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks the base policy and both modules.
func (rf *RulesFile) Validate() error {
	if err := rf.Trading.Validate(); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	if err := rf.TradingRules.Validate(); err != nil {
		return fmt.Errorf("trading_rules: %w", err)
	}
	if err := rf.SignalRules.Validate(); err != nil {
		return fmt.Errorf("signal_rules: %w", err)
	}
	for _, name := range append(append([]string{}, rf.Trading.SwapSignalRules...), rf.Trading.ArbitrageSignalRules...) {
		if _, ok := rf.SignalRules.Rule(name); !ok {
			return fmt.Errorf("trading: unknown signal rule %q", name)
		}
	}
	return nil
}

// SaveRules writes rf to path as YAML.
func SaveRules(path string, rf *RulesFile) error {
	data, err := yaml.Marshal(rf)
	if err != nil {
		return fmt.Errorf("encode rules file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	return nil
}
