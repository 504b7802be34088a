package strategy

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
)

// DefaultMaxNodes bounds the size of a single rule expression.
const DefaultMaxNodes = 512

// Document is the YAML form of a trading rule.
//
//	params:
//	  oversold: 30
//	buy: rsi < oversold
//	sell: rsi > 70
//	stop_loss_pct: 0.05
//
// Either signal or at least one of buy/sell must be given, not both.
type Document struct {
	Params        map[string]float64 `yaml:"params"`
	Buy           string             `yaml:"buy"`
	Sell          string             `yaml:"sell"`
	Signal        string             `yaml:"signal"`
	StopLoss      string             `yaml:"stop_loss"`
	TakeProfit    string             `yaml:"take_profit"`
	StopLossPct   float64            `yaml:"stop_loss_pct"`
	TakeProfitPct float64            `yaml:"take_profit_pct"`
}

// Rule is a validated rule document. It is immutable and may be shared;
// each backtest run binds it to its own Runtime.
type Rule struct {
	Name     string
	Source   string
	Doc      Document
	maxNodes int
}

var paramName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Compile parses and validates a rule document. All failures are reported
// as CompileError, except references to forbidden capabilities, which are
// reported as SecurityViolation.
func Compile(name, source string, maxNodes int) (*Rule, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}

	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(source))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.Compilef("rule is empty")
		}
		return nil, domain.Compilef("malformed rule document: %v", err)
	}

	doc.Buy = strings.TrimSpace(doc.Buy)
	doc.Sell = strings.TrimSpace(doc.Sell)
	doc.Signal = strings.TrimSpace(doc.Signal)
	doc.StopLoss = strings.TrimSpace(doc.StopLoss)
	doc.TakeProfit = strings.TrimSpace(doc.TakeProfit)

	switch {
	case doc.Signal == "" && doc.Buy == "" && doc.Sell == "":
		return nil, domain.Compilef("rule defines no decision: set signal or buy/sell")
	case doc.Signal != "" && (doc.Buy != "" || doc.Sell != ""):
		return nil, domain.Compilef("rule may define signal or buy/sell, not both")
	}

	if err := checkPct("stop_loss_pct", doc.StopLossPct); err != nil {
		return nil, err
	}
	if err := checkPct("take_profit_pct", doc.TakeProfitPct); err != nil {
		return nil, err
	}
	if doc.StopLoss != "" && doc.StopLossPct != 0 {
		return nil, domain.Compilef("stop_loss and stop_loss_pct are mutually exclusive")
	}
	if doc.TakeProfit != "" && doc.TakeProfitPct != 0 {
		return nil, domain.Compilef("take_profit and take_profit_pct are mutually exclusive")
	}

	reserved := reservedNames()
	for p, v := range doc.Params {
		if !paramName.MatchString(p) {
			return nil, domain.Compilef("invalid parameter name %q", p)
		}
		if reserved[p] || forbiddenNames[p] {
			return nil, domain.Compilef("parameter %q shadows a built-in name", p)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, domain.Compilef("parameter %q must be finite", p)
		}
	}

	r := &Rule{Name: name, Source: source, Doc: doc, maxNodes: maxNodes}

	allowed := r.identifiers()
	for _, f := range r.fields() {
		if err := checkExpression(f.name, f.src, allowed, maxNodes); err != nil {
			return nil, err
		}
	}

	// Type-check against an unbound cursor so that failures surface before
	// any simulation starts.
	if _, err := r.programs(&cursor{}); err != nil {
		return nil, err
	}
	return r, nil
}

func checkPct(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v >= 1 {
		return domain.Compilef("%s must be in [0,1), got %v", field, v)
	}
	return nil
}

func reservedNames() map[string]bool {
	out := make(map[string]bool)
	for _, n := range indicator.Names() {
		out[n] = true
	}
	for _, n := range accountVars() {
		out[n] = true
	}
	for _, n := range functionNames() {
		out[n] = true
	}
	return out
}

// identifiers returns every name a rule expression may reference as a
// variable.
func (r *Rule) identifiers() map[string]bool {
	out := make(map[string]bool)
	for _, n := range indicator.Names() {
		out[n] = true
	}
	for _, n := range accountVars() {
		out[n] = true
	}
	for p := range r.Doc.Params {
		out[p] = true
	}
	return out
}

type ruleField struct {
	name string
	src  string
	kind expr.Option
}

func (r *Rule) fields() []ruleField {
	var out []ruleField
	add := func(name, src string, kind expr.Option) {
		if src != "" {
			out = append(out, ruleField{name: name, src: src, kind: kind})
		}
	}
	add("buy", r.Doc.Buy, expr.AsBool())
	add("sell", r.Doc.Sell, expr.AsBool())
	add("signal", r.Doc.Signal, expr.AsAny())
	add("stop_loss", r.Doc.StopLoss, expr.AsFloat64())
	add("take_profit", r.Doc.TakeProfit, expr.AsFloat64())
	return out
}

// templateEnv is the variable environment used for type checking. All
// values are float64.
func (r *Rule) templateEnv() map[string]any {
	env := make(map[string]any)
	for name := range r.identifiers() {
		env[name] = 0.0
	}
	return env
}

// programs compiles every expression of the rule with its functions bound
// to c.
func (r *Rule) programs(c *cursor) (map[string]*vm.Program, error) {
	base := []expr.Option{
		expr.Env(r.templateEnv()),
		expr.DisableAllBuiltins(),
		expr.MaxNodes(uint(r.maxNodes)),
	}
	base = append(base, c.options()...)

	out := make(map[string]*vm.Program)
	for _, f := range r.fields() {
		opts := append(append([]expr.Option(nil), base...), f.kind)
		p, err := expr.Compile(f.src, opts...)
		if err != nil {
			return nil, domain.Compilef("%s: %v", f.name, err)
		}
		out[f.name] = p
	}
	return out, nil
}

// Params returns the rule's declared parameters with overrides applied.
// Overrides for undeclared parameters are rejected.
func (r *Rule) Params(overrides map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(r.Doc.Params))
	for k, v := range r.Doc.Params {
		out[k] = v
	}
	for k, v := range overrides {
		if _, ok := r.Doc.Params[k]; !ok {
			return nil, domain.Validationf("rule %q has no parameter %q", r.Name, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, domain.Validationf("parameter %q must be finite", k)
		}
		out[k] = v
	}
	return out, nil
}

func (r *Rule) String() string {
	return fmt.Sprintf("rule(%s)", r.Name)
}
