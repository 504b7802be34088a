package strategy

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
)

// Account and position variables available to rules.
const (
	varCash       = "cash"
	varShares     = "shares"
	varPosition   = "position"
	varEntryPrice = "entry_price"
	varBarIndex   = "bar_index"
)

func accountVars() []string {
	return []string{varCash, varShares, varPosition, varEntryPrice, varBarIndex}
}

// Names that grant ambient capabilities. Referencing any of them is a
// security violation rather than a plain compile error.
var forbiddenNames = map[string]bool{
	"$env":      true,
	"exec":      true,
	"system":    true,
	"env":       true,
	"readFile":  true,
	"writeFile": true,
	"http":      true,
	"fetch":     true,
	"spawn":     true,
	"import":    true,
	"eval":      true,
	"now":       true,
	"date":      true,
}

// Functions whose string arguments name columns.
var columnFuncs = map[string]int{
	"prev":       1,
	"highest":    1,
	"lowest":     1,
	"avg":        1,
	"crossover":  2,
	"crossunder": 2,
}

// Pure numeric helpers. The parser reports some of these as builtins.
var mathFuncs = map[string]bool{
	"abs":   true,
	"min":   true,
	"max":   true,
	"floor": true,
	"ceil":  true,
	"round": true,
}

func isFunction(name string) bool {
	_, col := columnFuncs[name]
	return col || mathFuncs[name]
}

// sandboxCheck walks a parsed expression and records the first security
// violation and the first unsupported construct it meets.
type sandboxCheck struct {
	allowed  map[string]bool
	nodes    int
	security error
	invalid  error
}

func (c *sandboxCheck) fail(err error) {
	if c.invalid == nil {
		c.invalid = err
	}
}

func (c *sandboxCheck) Visit(node *ast.Node) {
	c.nodes++

	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		switch {
		case forbiddenNames[n.Value]:
			if c.security == nil {
				c.security = domain.Securityf("access to %q is not permitted", n.Value)
			}
		case !c.allowed[n.Value] && !isFunction(n.Value):
			c.fail(fmt.Errorf("unknown identifier %q", n.Value))
		}

	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			c.fail(fmt.Errorf("only direct function calls are supported"))
			return
		}
		if forbiddenNames[id.Value] {
			return
		}
		if !isFunction(id.Value) {
			c.fail(fmt.Errorf("unknown function %q", id.Value))
			return
		}
		c.checkColumnArgs(id.Value, n.Arguments)

	case *ast.BuiltinNode:
		switch {
		case forbiddenNames[n.Name]:
			if c.security == nil {
				c.security = domain.Securityf("access to %q is not permitted", n.Name)
			}
		case !mathFuncs[n.Name]:
			c.fail(fmt.Errorf("function %q is not available in rules", n.Name))
		}

	case *ast.BinaryNode:
		if n.Operator == ".." {
			c.fail(fmt.Errorf("range expressions are not supported"))
		}

	case *ast.MemberNode, *ast.SliceNode, *ast.ChainNode:
		c.fail(fmt.Errorf("member and slice access are not supported"))

	case *ast.PredicateNode, *ast.PointerNode, *ast.VariableDeclaratorNode,
		*ast.SequenceNode, *ast.ArrayNode, *ast.MapNode, *ast.PairNode:
		c.fail(fmt.Errorf("unsupported expression construct"))
	}
}

func (c *sandboxCheck) checkColumnArgs(fn string, args []ast.Node) {
	want := columnFuncs[fn]
	if len(args) < want {
		c.fail(fmt.Errorf("%s expects at least %d arguments", fn, want))
		return
	}
	for _, arg := range args[:want] {
		s, ok := arg.(*ast.StringNode)
		if !ok {
			c.fail(fmt.Errorf("%s: column name must be a string literal", fn))
			continue
		}
		if !indicator.IsColumn(s.Value) {
			c.fail(fmt.Errorf("%s: unknown column %q", fn, s.Value))
		}
	}
}

// checkExpression parses src and enforces the sandbox rules. Security
// violations take precedence over other failures.
func checkExpression(field, src string, allowed map[string]bool, maxNodes int) error {
	tree, err := parser.Parse(src)
	if err != nil {
		return domain.Compilef("%s: %v", field, err)
	}

	c := &sandboxCheck{allowed: allowed}
	ast.Walk(&tree.Node, c)

	if c.security != nil {
		return fmt.Errorf("%s: %w", field, c.security)
	}
	if c.invalid != nil {
		return domain.Compilef("%s: %v", field, c.invalid)
	}
	if maxNodes > 0 && c.nodes > maxNodes {
		return domain.Compilef("%s: expression has %d nodes, limit is %d", field, c.nodes, maxNodes)
	}
	return nil
}
