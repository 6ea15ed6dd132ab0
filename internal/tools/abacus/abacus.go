// Package abacus evaluates arithmetic written the way people write it
// in questions: with currency symbols, thousands separators and scale
// words such as "million" or 万亿.
package abacus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"golang.org/x/text/unicode/norm"

	"github.com/nugget/hive-nexus/internal/tools"
)

// Name is the registered tool name.
const Name = "abacus"

// Args is the abacus argument object.
type Args struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic to evaluate such as '3.21万亿 * 0.05' or '($1234.56 + ￥500) / 2'"`
}

var (
	currencyRe = regexp.MustCompile(`[,$€£¥￥元]`)
	cjkUnitRe  = regexp.MustCompile(`(万亿|亿|万)\s*`)
	wordUnitRe = regexp.MustCompile(`(?i)\s*(trillion|billion|million|thousand)\b`)
	tokenRe    = regexp.MustCompile(`\d+\.?\d*(?:[eE][+\-]?\d+)?|[+\-*/()]`)
)

// operatorReplacer maps typographic operators that NFKC leaves alone.
var operatorReplacer = strings.NewReplacer("×", "*", "÷", "/", "−", "-")

var unitExponent = map[string]string{
	"万亿":       "e12",
	"亿":        "e8",
	"万":        "e4",
	"trillion": "e12",
	"billion":  "e9",
	"million":  "e6",
	"thousand": "e3",
}

// Abacus evaluates cleaned expressions with CEL restricted to
// floating-point arithmetic.
type Abacus struct {
	env *cel.Env
}

// New creates an Abacus.
func New() (*Abacus, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Abacus{env: env}, nil
}

func (a *Abacus) Name() string { return Name }

func (a *Abacus) Description() string {
	return "Evaluate a math expression exactly. Accepts numbers with currency symbols, " +
		"thousands separators and scale units (万, 亿, 万亿, thousand, million, billion, trillion)."
}

func (a *Abacus) Parameters() map[string]any { return tools.SchemaFor[Args]() }

// Invoke cleans and evaluates the expression argument.
func (a *Abacus) Invoke(ctx context.Context, raw map[string]any) (any, error) {
	args, err := tools.Decode[Args](raw)
	if err != nil {
		return nil, err
	}
	result, err := a.Evaluate(ctx, args.Expression)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result":              result,
		"original_expression": args.Expression,
	}, nil
}

// Evaluate cleans expr and returns its value.
func (a *Abacus) Evaluate(ctx context.Context, expr string) (float64, error) {
	cleaned := Clean(expr)
	if cleaned == "" {
		return 0, errors.New("no arithmetic expression found in input")
	}

	ast, iss := a.env.Compile(cleaned)
	if iss != nil && iss.Err() != nil {
		return 0, fmt.Errorf("cannot parse %q: %w", cleaned, iss.Err())
	}
	prg, err := a.env.Program(ast, cel.CostLimit(10_000))
	if err != nil {
		return 0, fmt.Errorf("cannot plan %q: %w", cleaned, err)
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{})
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", cleaned, err)
	}

	v, ok := out.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("evaluate %q: result is %T, not a number", cleaned, out.Value())
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("evaluate %q: result is not finite (division by zero?)", cleaned)
	}
	return v, nil
}

// Clean strips everything but numbers and arithmetic operators from
// text, applying scale units as exponents. Every number is rewritten as
// a floating-point literal so the result never truncates. Full-width
// digits and operators are folded to ASCII first.
func Clean(text string) string {
	text = operatorReplacer.Replace(norm.NFKC.String(text))
	text = currencyRe.ReplaceAllString(text, "")
	text = cjkUnitRe.ReplaceAllStringFunc(text, func(m string) string {
		return unitExponent[strings.TrimSpace(m)]
	})
	text = wordUnitRe.ReplaceAllStringFunc(text, func(m string) string {
		return unitExponent[strings.ToLower(strings.TrimSpace(m))]
	})

	tokens := tokenRe.FindAllString(text, -1)
	var b strings.Builder
	for _, tok := range tokens {
		if tok[0] >= '0' && tok[0] <= '9' {
			b.WriteString(floatLiteral(tok))
			continue
		}
		b.WriteString(tok)
	}
	return b.String()
}

func floatLiteral(tok string) string {
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return tok
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
