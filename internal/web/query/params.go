package query

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// fieldsPattern matches query parameters like fields[typename]
var fieldsPattern = regexp.MustCompile(`^fields\[([^\]]+)\]$`)

// filterPattern matches query parameters like filter[key] and filter[key][op]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\](?:\[([^\]]+)\])?$`)

// pagePattern matches query parameters like page[size]
var pagePattern = regexp.MustCompile(`^page\[([^\]]+)\]$`)

// reservedPattern matches parameter names reserved for JSON:API itself: names made only of
// lower-case a-z. Implementation specific parameters must contain another character.
var reservedPattern = regexp.MustCompile(`^[a-z]+$`)

// RawFilter is a filter parameter before validation
type RawFilter struct {
	Field string
	Op    string // empty means equality
	Value string
}

// ParseInclude parses the include query parameter into a slice of relationship paths.
// Example: ?include=author,comments.author returns ["author", "comments.author"]
// Returns an empty slice if the include parameter is not present.
func ParseInclude(values url.Values) []string {
	return splitList(values.Get("include"))
}

// ParseFields parses the fields query parameters into a map of resource types to field names.
// Example: ?fields[users]=name,email&fields[posts]=title
// Returns: {"users": ["name", "email"], "posts": ["title"]}
// An empty parameter yields an empty (not nil) field list.
func ParseFields(values url.Values) map[string][]string {
	result := make(map[string][]string)

	for key, vals := range values {
		matches := fieldsPattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}

		typeName := matches[1]
		if len(vals) == 0 {
			result[typeName] = []string{}
			continue
		}
		result[typeName] = splitList(vals[0])
	}

	return result
}

// ParseFilter parses the filter query parameters, sorted by field and operator.
// Example: ?filter[status]=published&filter[year][gte]=1990
// Returns: [{year gte 1990} {status  published}]
func ParseFilter(values url.Values) []RawFilter {
	var result []RawFilter

	for key, vals := range values {
		matches := filterPattern.FindStringSubmatch(key)
		if len(matches) != 3 || len(vals) == 0 {
			continue
		}
		result = append(result, RawFilter{Field: matches[1], Op: matches[2], Value: vals[0]})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Field != result[j].Field {
			return result[i].Field < result[j].Field
		}
		return result[i].Op < result[j].Op
	})
	return result
}

// ParseSort parses the sort query parameter into a slice of sort fields.
// Example: ?sort=-created_at,title returns ["-created_at", "title"]
// The "-" prefix indicates descending sort order.
// Returns an empty slice if the sort parameter is not present.
func ParseSort(values url.Values) []string {
	return splitList(values.Get("sort"))
}

// ParsePage parses the page query parameters into a map of member to value.
// Example: ?page[offset]=20&page[limit]=10 returns {"offset": "20", "limit": "10"}
func ParsePage(values url.Values) map[string]string {
	result := make(map[string]string)
	for key, vals := range values {
		matches := pagePattern.FindStringSubmatch(key)
		if len(matches) != 2 || len(vals) == 0 {
			continue
		}
		result[matches[1]] = strings.TrimSpace(vals[0])
	}
	return result
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
