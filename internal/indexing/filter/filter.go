// Package filter evaluates admission expressions against fetched records.
//
// An expression is a list of `key = value` conditions joined with `&` and `|`
// and grouped with parentheses, e.g. `(status = ok & tx.type = 1) | kind = deposit`.
// There is no operator precedence: operators are combined in stack order, so
// `a | b & c` groups as `a | (b & c)` and `a & b | c` as `a & (b | c)`.
// Use parentheses when mixing operators.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidExpression is returned for unbalanced parentheses and missing
	// operands or operators.
	ErrInvalidExpression = errors.New("invalid filter expression")

	// ErrInvalidCondition is returned when a leaf is not of the form key = value.
	ErrInvalidCondition = errors.New("invalid filter condition")
)

const (
	opAnd   = "&"
	opOr    = "|"
	opOpen  = "("
	opClose = ")"
)

// Options tune how leaf keys are resolved.
type Options struct {
	// DottedPathsOnly disables the find-anywhere lookup for bare keys. A bare
	// key then only matches a top-level field.
	DottedPathsOnly bool
}

// Evaluate reports whether record satisfies expression. An empty expression
// accepts everything.
func Evaluate(record map[string]any, expression string) (bool, error) {
	return EvaluateWith(record, expression, Options{})
}

// EvaluateWith is Evaluate with explicit lookup options.
func EvaluateWith(record map[string]any, expression string, opts Options) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	tokens, err := tokenize(record, expression, opts)
	if err != nil {
		return false, err
	}
	return reduce(tokens)
}

// tokenize splits on operators and parentheses, evaluating each leaf as soon
// as it is complete. The result contains operators and "true"/"false".
func tokenize(record map[string]any, expression string, opts Options) ([]string, error) {
	var (
		tokens  []string
		pending strings.Builder
	)

	flush := func() error {
		cond := pending.String()
		pending.Reset()
		if strings.TrimSpace(cond) == "" {
			return nil
		}
		ok, err := evalCondition(record, cond, opts)
		if err != nil {
			return err
		}
		tokens = append(tokens, strconv.FormatBool(ok))
		return nil
	}

	for _, c := range expression {
		switch c {
		case '&', '|', '(', ')':
			if err := flush(); err != nil {
				return nil, err
			}
			tokens = append(tokens, string(c))
		default:
			pending.WriteRune(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func reduce(tokens []string) (bool, error) {
	var (
		bools []bool
		ops   []string
	)

	combine := func() error {
		op := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if op == opOpen {
			return fmt.Errorf("%w: unclosed parenthesis", ErrInvalidExpression)
		}
		if len(bools) < 2 {
			return fmt.Errorf("%w: operator %q is missing an operand", ErrInvalidExpression, op)
		}
		top, second := bools[len(bools)-1], bools[len(bools)-2]
		bools = bools[:len(bools)-2]
		if op == opAnd {
			bools = append(bools, top && second)
		} else {
			bools = append(bools, top || second)
		}
		return nil
	}

	for _, tok := range tokens {
		switch tok {
		case opClose:
			for {
				if len(ops) == 0 {
					return false, fmt.Errorf("%w: unmatched ')'", ErrInvalidExpression)
				}
				if ops[len(ops)-1] == opOpen {
					break
				}
				if err := combine(); err != nil {
					return false, err
				}
			}
			ops = ops[:len(ops)-1]
		case opOpen, opAnd, opOr:
			ops = append(ops, tok)
		default:
			bools = append(bools, tok == "true")
		}
	}

	for len(ops) > 0 {
		if err := combine(); err != nil {
			return false, err
		}
	}

	switch len(bools) {
	case 0:
		return false, fmt.Errorf("%w: no condition", ErrInvalidExpression)
	case 1:
		return bools[0], nil
	default:
		return false, fmt.Errorf("%w: conditions without operator", ErrInvalidExpression)
	}
}

func evalCondition(record map[string]any, cond string, opts Options) (bool, error) {
	parts := strings.Split(cond, "=")
	if len(parts) != 2 {
		return false, fmt.Errorf("%w: %q", ErrInvalidCondition, strings.TrimSpace(cond))
	}
	key := strings.TrimSpace(parts[0])
	want := strings.TrimSpace(parts[1])
	if key == "" {
		// Nothing is stored under an empty key.
		return false, nil
	}

	var (
		value any
		found bool
	)
	switch {
	case strings.Contains(key, "."):
		value, found = lookupPath(record, key)
	case opts.DottedPathsOnly:
		value, found = record[key]
	default:
		value, found = findAnywhere(record, key)
	}
	if !found {
		value = nil
	}
	return stringify(value) == want, nil
}
