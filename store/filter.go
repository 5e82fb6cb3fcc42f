package store

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Op is a filter predicate mode.
type Op string

const (
	// OpEquals matches when the attribute equals the value.
	OpEquals Op = "equals"

	// OpEqualsAnyOf matches when the attribute equals any of the values.
	OpEqualsAnyOf Op = "equalsAnyOf"

	// OpInArray matches when the value is an element of the list attribute.
	OpInArray Op = "inArray"
)

// Filter selects items by one attribute.
type Filter struct {
	// Key is the item attribute name (the dynamodbav tag, e.g., "user_id").
	Key string

	// Op is the predicate mode.
	Op Op

	// Values holds one value for OpEquals and OpInArray, any number for OpEqualsAnyOf.
	Values []any
}

// Equals matches items whose key attribute equals v.
func Equals(key string, v any) Filter {
	return Filter{Key: key, Op: OpEquals, Values: []any{v}}
}

// EqualsAnyOf matches items whose key attribute equals any of vs.
func EqualsAnyOf[V any](key string, vs ...V) Filter {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return Filter{Key: key, Op: OpEqualsAnyOf, Values: values}
}

// InArray matches items whose list attribute key contains v.
func InArray(key string, v any) Filter {
	return Filter{Key: key, Op: OpInArray, Values: []any{v}}
}

// compiledFilter is a Filter with its values marshalled once.
type compiledFilter struct {
	key    string
	op     Op
	values []types.AttributeValue
}

// compile validates the filter and marshals its values.
func (f Filter) compile() (compiledFilter, error) {
	if f.Key == "" {
		return compiledFilter{}, fmt.Errorf("%w: filter without key", ErrContractViolation)
	}
	switch f.Op {
	case OpEquals, OpInArray:
		if len(f.Values) != 1 {
			return compiledFilter{}, fmt.Errorf("%w: %s filter on %q takes one value, got %d",
				ErrContractViolation, f.Op, f.Key, len(f.Values))
		}
	case OpEqualsAnyOf:
	default:
		return compiledFilter{}, fmt.Errorf("%w: unknown filter op %q", ErrContractViolation, f.Op)
	}

	cf := compiledFilter{key: f.Key, op: f.Op, values: make([]types.AttributeValue, 0, len(f.Values))}
	for _, v := range f.Values {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return compiledFilter{}, fmt.Errorf("%w: filter value for %q: %v", ErrContractViolation, f.Key, err)
		}
		cf.values = append(cf.values, av)
	}
	return cf, nil
}

// match reports whether item satisfies the filter.
func (cf compiledFilter) match(item map[string]types.AttributeValue) (bool, error) {
	attr, ok := item[cf.key]
	if !ok {
		return false, nil
	}

	switch cf.op {
	case OpEquals, OpEqualsAnyOf:
		return slices.ContainsFunc(cf.values, func(v types.AttributeValue) bool {
			return attrEqual(attr, v)
		}), nil
	case OpInArray:
		elems, err := listElements(attr)
		if err != nil {
			return false, fmt.Errorf("%w: inArray on %q: %v", ErrContractViolation, cf.key, err)
		}
		return slices.ContainsFunc(elems, func(e types.AttributeValue) bool {
			return attrEqual(e, cf.values[0])
		}), nil
	}
	return false, fmt.Errorf("%w: unknown filter op %q", ErrContractViolation, cf.op)
}

// matchAll reports whether item satisfies every filter.
func matchAll(filters []compiledFilter, item map[string]types.AttributeValue) (bool, error) {
	for _, f := range filters {
		ok, err := f.match(item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// listElements returns the elements of a list or set attribute.
// NULL is an empty list (nil slices marshal to NULL).
func listElements(attr types.AttributeValue) ([]types.AttributeValue, error) {
	switch v := attr.(type) {
	case *types.AttributeValueMemberL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberSS:
		out := make([]types.AttributeValue, len(v.Value))
		for i, s := range v.Value {
			out[i] = &types.AttributeValueMemberS{Value: s}
		}
		return out, nil
	case *types.AttributeValueMemberNS:
		out := make([]types.AttributeValue, len(v.Value))
		for i, n := range v.Value {
			out[i] = &types.AttributeValueMemberN{Value: n}
		}
		return out, nil
	}
	return nil, fmt.Errorf("attribute is %T, not a list", attr)
}

// attrEqual compares two attribute values structurally.
func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		return ok && slices.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberNS:
		bv, ok := b.(*types.AttributeValueMemberNS)
		return ok && slices.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberL:
		bv, ok := b.(*types.AttributeValueMemberL)
		return ok && slices.EqualFunc(av.Value, bv.Value, attrEqual)
	case *types.AttributeValueMemberM:
		bv, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for k, v := range av.Value {
			other, exists := bv.Value[k]
			if !exists || !attrEqual(v, other) {
				return false
			}
		}
		return true
	}
	return false
}
