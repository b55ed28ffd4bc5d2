package tools

import (
	"math"
	"net/url"
	"strconv"
)

func put[T any](body map[string]any, key string, v *T) {
	if v != nil {
		body[key] = *v
	}
}

func setQuery(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func paginate(q url.Values, limit, offset int) {
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
}

func requireChange(body map[string]any) error {
	if len(body) == 0 {
		return &ArgumentError{Fields: map[string]string{"arguments": "at least one field to update is required"}}
	}
	return nil
}

func idParam(name, what string) Param {
	return Param{Name: name, Required: true, Schema: matching(what+" ID", idPattern, 128)}
}

func limitParam() Param {
	return Param{Name: "limit", Schema: withDefault(integer("Maximum number of results", 1, 100), 50)}
}

func offsetParam() Param {
	return Param{Name: "offset", Schema: withDefault(integer("Number of results to skip", 0, math.MaxInt32), 0)}
}
