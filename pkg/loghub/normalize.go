package loghub

import (
	"fmt"
	"reflect"
	"time"
)

// maxNormalizeDepth bounds the data tree handed to the redactor. Values
// nested deeper are replaced with a sentinel.
const maxNormalizeDepth = 8

// depthSentinel marks values truncated by the depth cap.
const depthSentinel = "[max depth exceeded]"

// cycleSentinel marks values dropped because they referred back to an
// ancestor in the tree.
const cycleSentinel = "[circular]"

// normalizeData converts an arbitrary data map into a tree of primitives,
// plain maps/slices and pre-normalized error shapes, so redaction and
// serialization never see surprise types. Errors become
// {name, message, stack?}; times become ISO text.
func normalizeData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	visited := make(map[uintptr]bool)
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v, 1, visited)
	}
	return out
}

// normalizeError flattens an error into a plain map. The verbose rendering
// is kept as a stack field when it carries more than the message, which is
// what pkg/errors wrapped values produce.
func normalizeError(err error) map[string]interface{} {
	out := map[string]interface{}{
		"name":    fmt.Sprintf("%T", err),
		"message": err.Error(),
	}
	if verbose := fmt.Sprintf("%+v", err); verbose != err.Error() {
		out["stack"] = verbose
	}
	return out
}

func normalizeValue(v interface{}, depth int, visited map[uintptr]bool) interface{} {
	if v == nil {
		return nil
	}
	if depth > maxNormalizeDepth {
		return depthSentinel
	}

	switch val := v.(type) {
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case error:
		return normalizeError(val)
	case map[string]interface{}:
		return normalizeStringMap(val, depth, visited)
	case []interface{}:
		return normalizeSlice(reflect.ValueOf(val), depth, visited)
	}

	return normalizeReflected(reflect.ValueOf(v), depth, visited)
}

func normalizeStringMap(m map[string]interface{}, depth int, visited map[uintptr]bool) interface{} {
	ptr := reflect.ValueOf(m).Pointer()
	if visited[ptr] {
		return cycleSentinel
	}
	visited[ptr] = true
	defer delete(visited, ptr)

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v, depth+1, visited)
	}
	return out
}

func normalizeSlice(rv reflect.Value, depth int, visited map[uintptr]bool) interface{} {
	if rv.Kind() == reflect.Slice {
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if visited[ptr] {
			return cycleSentinel
		}
		visited[ptr] = true
		defer delete(visited, ptr)
	}

	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = normalizeValue(rv.Index(i).Interface(), depth+1, visited)
	}
	return out
}

// normalizeReflected handles the remaining kinds: arbitrary maps, slices,
// arrays and pointers. Anything else is rendered with %v.
func normalizeReflected(rv reflect.Value, depth int, visited map[uintptr]bool) interface{} {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface(), depth, visited)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if visited[ptr] {
			return cycleSentinel
		}
		visited[ptr] = true
		defer delete(visited, ptr)

		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			out[key] = normalizeValue(iter.Value().Interface(), depth+1, visited)
		}
		return out
	case reflect.Slice, reflect.Array:
		return normalizeSlice(rv, depth, visited)
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}
