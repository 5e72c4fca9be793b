// Package request decodes the single form-encoded request a querygate
// invocation receives.
package request

import (
	"net/url"
	"strings"
)

// QueryField is the name of the field carrying the query text.
const QueryField = "query"

// Fields maps field names to their decoded values.
type Fields map[string]string

// Decode parses raw as a form-encoded string ("a=1&b=x+y%21").
// Malformed pairs are skipped; whatever decodes cleanly is returned.
// Fields missing from raw are absent from the result, and a repeated
// name keeps its first value.
func Decode(raw string) Fields {
	fields := make(Fields)
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(name)
		if err != nil || name == "" {
			continue
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			continue
		}
		if _, seen := fields[name]; !seen {
			fields[name] = value
		}
	}
	return fields
}

// Get returns the value of name and whether it was present.
func (f Fields) Get(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// QueryFromArgs extracts the query from positional arguments. Only an
// invocation with exactly one argument carries a request; any other count
// yields no query. A present but empty "query" field is still a query.
func QueryFromArgs(args []string) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	return Decode(args[0]).Get(QueryField)
}
