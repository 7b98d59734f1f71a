package servicem8

import (
	"net/url"
	"strings"
)

// Eq builds an OData equality expression.
func Eq(field, value string) string {
	return field + " eq " + quote(value)
}

// Gt builds an OData greater-than expression.
func Gt(field, value string) string {
	return field + " gt " + quote(value)
}

// And joins expressions with the OData "and" operator.
func And(expressions ...string) string {
	return strings.Join(expressions, " and ")
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func filterQuery(expression string) url.Values {
	if expression == "" {
		return nil
	}
	return url.Values{"$filter": {expression}}
}
