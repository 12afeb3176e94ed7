package dynamodriver

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/match"
)

// expression collects placeholder names (#_0) and values (:_0) for one
// DynamoDB command.
type expression struct {
	names    map[string]string
	values   map[string]types.AttributeValue
	namesMap map[string]string // attribute → placeholder
	nindex   int
	vindex   int
	filters  []string
}

func newExpression() *expression {
	return &expression{
		names:    map[string]string{},
		values:   map[string]types.AttributeValue{},
		namesMap: map[string]string{},
	}
}

func (e *expression) name(attr string) string {
	if tok, ok := e.namesMap[attr]; ok {
		return tok
	}
	tok := fmt.Sprintf("#_%d", e.nindex)
	e.nindex++
	e.names[tok] = attr
	e.namesMap[attr] = tok
	return tok
}

func (e *expression) value(av types.AttributeValue) string {
	tok := fmt.Sprintf(":_%d", e.vindex)
	e.vindex++
	e.values[tok] = av
	return tok
}

// addCondition renders one condition as a filter. It reports false for LIKE
// patterns DynamoDB cannot express, which are left to the caller.
func (e *expression) addCondition(c rw.Condition) (bool, error) {
	switch c.Operator {
	case rw.OpNull:
		e.filters = append(e.filters, fmt.Sprintf("attribute_not_exists(%s)", e.name(c.Column)))
		return true, nil
	case rw.OpNotNull:
		e.filters = append(e.filters, fmt.Sprintf("attribute_exists(%s)", e.name(c.Column)))
		return true, nil
	case rw.OpLike:
		pattern, _ := c.Value.(string)
		switch {
		case match.IsLiteral(pattern):
			e.filters = append(e.filters, fmt.Sprintf("%s = %s", e.name(c.Column), e.value(&types.AttributeValueMemberS{Value: pattern})))
		default:
			if prefix, ok := match.LikePrefix(pattern); ok {
				e.filters = append(e.filters, fmt.Sprintf("begins_with(%s, %s)", e.name(c.Column), e.value(&types.AttributeValueMemberS{Value: prefix})))
				return true, nil
			}
			if infix, ok := match.LikeInfix(pattern); ok {
				e.filters = append(e.filters, fmt.Sprintf("contains(%s, %s)", e.name(c.Column), e.value(&types.AttributeValueMemberS{Value: infix})))
				return true, nil
			}
			return false, nil
		}
		return true, nil
	case rw.OpEq, rw.OpNe, rw.OpGt, rw.OpGte, rw.OpLt, rw.OpLte:
		av, err := marshalValue(c.Value)
		if err != nil {
			return false, fmt.Errorf("marshal %s: %w", c.Column, err)
		}
		e.filters = append(e.filters, fmt.Sprintf("%s %s %s", e.name(c.Column), c.Operator, e.value(av)))
		return true, nil
	}
	return false, rw.NewError(fmt.Sprintf("Unsupported operator %q", c.Operator), rw.WithCode(rw.ErrNotSupported))
}
