package solver

import (
	"fmt"
	"strings"
)

const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"

	GroupOneOf   = "one_of"
	GroupAtMost  = "at_most"
	GroupAtLeast = "at_least"

	RelationImplies         = "implies"
	RelationMutualExclusive = "mutual_exclusive"

	StatusOK    = "ok"
	StatusError = "error"
)

// Condition is one binary event that resolves YES or NO.
type Condition struct {
	ID       string `json:"id"`
	Question string `json:"question,omitempty"`
}

// Token is a tradable outcome share of a condition with its current top of
// book. A YES token pays 1 when its condition resolves YES, a NO token when
// it resolves NO.
type Token struct {
	TokenID     string  `json:"tokenId"`
	ConditionID string  `json:"conditionId"`
	Outcome     string  `json:"outcome"`
	Ask         float64 `json:"ask"`
	Bid         float64 `json:"bid"`
	AskSize     float64 `json:"askSize"`
	BidSize     float64 `json:"bidSize"`
	FeeBps      float64 `json:"feeBps,omitempty"`
	Label       string  `json:"label,omitempty"`
}

// Group constrains how many of its conditions may resolve YES.
type Group struct {
	Type         string   `json:"type"`
	ConditionIDs []string `json:"conditionIds"`
	K            int      `json:"k,omitempty"`
}

// Relation links two conditions: implies uses If/Then, mutual_exclusive
// uses A/B.
type Relation struct {
	Type string `json:"type"`
	If   string `json:"if,omitempty"`
	Then string `json:"then,omitempty"`
	A    string `json:"a,omitempty"`
	B    string `json:"b,omitempty"`
}

type Settings struct {
	MinProfit        float64 `json:"minProfit,omitempty"`
	MinDepth         float64 `json:"minDepth,omitempty"`
	MinDepthUSD      float64 `json:"minDepthUsd,omitempty"`
	AllowSells       *bool   `json:"allowSells,omitempty"`
	MaxLegs          int     `json:"maxLegs,omitempty"`
	MaxNotional      float64 `json:"maxNotional,omitempty"`
	FeeBps           float64 `json:"feeBps,omitempty"`
	SlippageBps      float64 `json:"slippageBps,omitempty"`
	FeeCurveRate     float64 `json:"feeCurveRate,omitempty"`
	FeeCurveExponent float64 `json:"feeCurveExponent,omitempty"`
	OracleTimeout    float64 `json:"oracleTimeout,omitempty"`
	MaxIter          int     `json:"maxIter,omitempty"`
	Tolerance        float64 `json:"tolerance,omitempty"`
	Scale            int     `json:"scale,omitempty"`
}

type Request struct {
	Conditions []Condition `json:"conditions"`
	Tokens     []Token     `json:"tokens"`
	Groups     []Group     `json:"groups,omitempty"`
	Relations  []Relation  `json:"relations,omitempty"`
	Settings   Settings    `json:"settings"`
}

type Leg struct {
	TokenID string  `json:"tokenId"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Shares  float64 `json:"shares"`
	Label   string  `json:"label,omitempty"`
}

// Opportunity is a portfolio whose payoff beats its cost in every outcome
// the solver could construct.
type Opportunity struct {
	RuntimeMs        int64            `json:"runtimeMs"`
	GuaranteedProfit float64          `json:"guaranteedProfit"`
	Cost             float64          `json:"cost"`
	Legs             []Leg            `json:"legs"`
	Outcomes         []map[string]int `json:"outcomes,omitempty"`
}

type Response struct {
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	Opportunities []Opportunity `json:"opportunities"`
}

// Normalize upper-cases token outcomes; the solver compares them against
// OutcomeYes and OutcomeNo verbatim.
func (r *Request) Normalize() {
	for i := range r.Tokens {
		r.Tokens[i].Outcome = strings.ToUpper(strings.TrimSpace(r.Tokens[i].Outcome))
	}
}

// Validate checks that tokens and constraints only reference declared
// conditions.
func (r *Request) Validate() error {
	known := make(map[string]struct{}, len(r.Conditions))
	for i, c := range r.Conditions {
		if c.ID == "" {
			return fmt.Errorf("condition %d: missing id", i)
		}
		known[c.ID] = struct{}{}
	}
	ref := func(what, id string) error {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%s: unknown condition %q", what, id)
		}
		return nil
	}

	for i, t := range r.Tokens {
		if t.TokenID == "" {
			return fmt.Errorf("token %d: missing tokenId", i)
		}
		if err := ref("token "+t.TokenID, t.ConditionID); err != nil {
			return err
		}
		if o := strings.ToUpper(t.Outcome); o != OutcomeYes && o != OutcomeNo {
			return fmt.Errorf("token %s: outcome %q", t.TokenID, t.Outcome)
		}
	}
	for i, g := range r.Groups {
		switch strings.ToLower(g.Type) {
		case GroupOneOf, GroupAtMost, GroupAtLeast:
		default:
			return fmt.Errorf("group %d: type %q", i, g.Type)
		}
		for _, id := range g.ConditionIDs {
			if err := ref(fmt.Sprintf("group %d", i), id); err != nil {
				return err
			}
		}
	}
	for i, rel := range r.Relations {
		var a, b string
		switch strings.ToLower(rel.Type) {
		case RelationImplies:
			a, b = rel.If, rel.Then
		case RelationMutualExclusive:
			a, b = rel.A, rel.B
		default:
			return fmt.Errorf("relation %d: type %q", i, rel.Type)
		}
		for _, id := range []string{a, b} {
			if err := ref(fmt.Sprintf("relation %d", i), id); err != nil {
				return err
			}
		}
	}
	return nil
}
