// Package risk implements the ordered RiskChain consulted by the portfolio
// before an order is allowed to reach execution (spec.md §4.3's canonical
// rule set).
package risk

import "trades-ai/internal/kernel"

// Chain evaluates an ordered list of kernel.RiskRule, short-circuiting on
// the first rejection.
type Chain struct {
	rules []kernel.RiskRule
}

// NewChain builds a chain from rules in evaluation order.
func NewChain(rules ...kernel.RiskRule) *Chain {
	return &Chain{rules: rules}
}

// Review runs order through every rule in order. It returns the
// (possibly rewritten) order when every rule approves, or the reason from
// the first rule that rejects.
func (c *Chain) Review(order kernel.OrderPayload, state kernel.PortfolioState) (*kernel.OrderPayload, *kernel.RiskRejectPayload) {
	current := order
	for _, rule := range c.rules {
		verdict := rule.Check(current, state)
		if !verdict.Approved {
			return nil, &kernel.RiskRejectPayload{
				RuleType: rule.Type(),
				Symbol:   current.Symbol,
				Order:    current,
				Reason:   verdict.Reason,
			}
		}
		if verdict.Modified != nil {
			current = *verdict.Modified
		}
	}
	return &current, nil
}
