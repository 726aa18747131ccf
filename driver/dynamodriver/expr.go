package dynamodriver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/espalier/driver"
)

// condition is a compiled filter: the expression string plus its
// placeholder maps.
type condition struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// compileFilter renders a filter as one equality clause per field.
// A nil filter value matches records where the field is null or absent.
// With mustExist set, the expression also requires the record itself to
// exist, which keeps a PutItem or DeleteItem from acting on a missing
// record when every per-field clause would pass vacuously.
func compileFilter(filter driver.Filter, mustExist bool) (condition, error) {
	cond := condition{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	var clauses []string
	if mustExist {
		cond.names["#id"] = idAttr
		clauses = append(clauses, "attribute_exists(#id)")
	}

	fields := make([]string, 0, len(filter))
	for k := range filter {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for i, field := range fields {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		cond.names[nameKey] = field
		v := filter[field]
		if v == nil {
			cond.values[valueKey] = &types.AttributeValueMemberNULL{Value: true}
			clauses = append(clauses, fmt.Sprintf("(attribute_not_exists(%s) OR %s = %s)", nameKey, nameKey, valueKey))
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return condition{}, fmt.Errorf("dynamodriver: marshal filter field %q: %w", field, err)
		}
		cond.values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	cond.expr = strings.Join(clauses, " AND ")
	return cond, nil
}

func marshalRecord(rec driver.Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("dynamodriver: marshal record: %w", err)
	}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (driver.Record, error) {
	var rec driver.Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("dynamodriver: unmarshal item: %w", err)
	}
	return rec, nil
}
