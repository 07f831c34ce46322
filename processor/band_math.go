package processor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	goeval "github.com/edisonguo/govaluate"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

var bandMathFunctions = map[string]goeval.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs takes one argument")
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs argument is not a number")
		}
		return math.Abs(v), nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		return foldNumbers("min", args, math.Min)
	},
	"max": func(args ...interface{}) (interface{}, error) {
		return foldNumbers("max", args, math.Max)
	},
}

func foldNumbers(name string, args []interface{}, f func(a, b float64) float64) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s needs at least one argument", name)
	}
	var out float64
	for i, a := range args {
		v, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%s argument %d is not a number", name, i+1)
		}
		if i == 0 {
			out = v
			continue
		}
		out = f(out, v)
	}
	return out, nil
}

var allowedModifiers = map[string]bool{"+": true, "-": true, "*": true, "/": true}

// BandMath is a validated arithmetic expression over band identifiers.
type BandMath struct {
	Expression string

	expr *goeval.EvaluableExpression
	// vars maps identifiers as written to canonical band names.
	vars map[string]string
}

// ParseBandMath accepts numbers, band identifiers, + - * /, unary minus,
// parentheses and abs, min and max. Identifiers may be any alias of a
// band in allowed; with no allowed bands any known band is accepted.
func ParseBandMath(expression string, allowed []string) (*BandMath, error) {
	reject := func(reason string, args ...interface{}) error {
		return &utils.BandMathError{Expression: expression, Reason: fmt.Sprintf(reason, args...)}
	}
	if len(strings.TrimSpace(expression)) == 0 {
		return nil, reject("empty expression")
	}

	expr, err := goeval.NewEvaluableExpressionWithFunctions(expression, bandMathFunctions)
	if err != nil {
		return nil, reject("%v", err)
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, b := range allowed {
		c, _ := catalog.Canonical(b)
		allowedSet[c] = true
	}

	bm := &BandMath{Expression: expression, expr: expr, vars: make(map[string]string)}
	for _, token := range expr.Tokens() {
		switch token.Kind {
		case goeval.NUMERIC, goeval.FUNCTION, goeval.SEPARATOR, goeval.CLAUSE, goeval.CLAUSE_CLOSE:
		case goeval.PREFIX:
			if op, _ := token.Value.(string); op != "-" {
				return nil, reject("prefix operator %v is not allowed", token.Value)
			}
		case goeval.MODIFIER:
			if op, _ := token.Value.(string); !allowedModifiers[op] {
				return nil, reject("operator %v is not allowed", token.Value)
			}
		case goeval.VARIABLE:
			name, ok := token.Value.(string)
			if !ok {
				return nil, reject("variable token '%v' failed to cast string", token.Value)
			}
			canonical, known := catalog.Canonical(name)
			if !known && len(allowedSet) == 0 {
				return nil, reject("unknown band %q", name)
			}
			if len(allowedSet) > 0 && !allowedSet[canonical] {
				return nil, reject("band %q is not among the supplied bands", name)
			}
			bm.vars[name] = canonical
		default:
			return nil, reject("token %v is not allowed", token.Value)
		}
	}
	if len(bm.vars) == 0 {
		return nil, reject("expression references no band")
	}
	return bm, nil
}

// Bands lists the canonical bands the expression reads, sorted.
func (bm *BandMath) Bands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range bm.vars {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// pixelParams serves band values of one pixel to the evaluator without a
// map allocation per pixel.
type pixelParams struct {
	vars  map[string]string
	bands map[string][]float32
	i     int
}

func (p *pixelParams) Get(name string) (interface{}, error) {
	c, ok := p.vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown band %q", name)
	}
	data, ok := p.bands[c]
	if !ok {
		return nil, fmt.Errorf("band %q not supplied", c)
	}
	return float64(data[p.i]), nil
}

// eval evaluates the expression at pixel i.
func (bm *BandMath) eval(params *pixelParams) (float64, error) {
	v, err := bm.expr.Eval(params)
	if err != nil {
		return math.NaN(), err
	}
	f, ok := v.(float64)
	if !ok {
		return math.NaN(), fmt.Errorf("expression produced %T", v)
	}
	return f, nil
}
