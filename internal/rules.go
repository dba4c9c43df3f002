package internal

import (
	"log"

	"github.com/Knetic/govaluate"
)

// Rule routes matching events to an extra topic. When is a govaluate expression over
// the flattened payload plus the "provider" and "event" parameters. Dotted keys must
// be bracketed, e.g. [pullrequest.state] == "OPEN".
type Rule struct {
	When    string   `yaml:"when"`
	Emit    string   `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// RuleMatch is a topic selected by a rule, optionally restricted to some drivers.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	emit    string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

func NewRuleEngine(rules []Rule, logger *log.Logger) (*RuleEngine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{emit: rule.Emit, drivers: rule.Drivers, expr: expr})
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Evaluate returns the topics whose rule matches the event. A nil engine matches nothing.
func (r *RuleEngine) Evaluate(provider, event string, raw []byte) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}

	params := FlattenJSON(raw)
	params["provider"] = provider
	params["event"] = event

	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			r.logger.Printf("rule %q eval failed: %v", rule.emit, err)
			continue
		}
		ok, _ := result.(bool)
		if ok {
			matches = append(matches, RuleMatch{Topic: rule.emit, Drivers: rule.drivers})
		}
	}
	return matches
}
