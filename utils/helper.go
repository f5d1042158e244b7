package utils

import (
	"reflect"
	"strings"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func UniqueSlice[T comparable](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	result := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// ChunkSlice splits ids into batches; the store rejects IN clauses above its
// per-query limit, so batch reads go through here.
func ChunkSlice[T any](values []T, size int) [][]T {
	if size <= 0 {
		return [][]T{values}
	}
	var chunks [][]T
	for size < len(values) {
		values, chunks = values[size:], append(chunks, values[0:size:size])
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}

func TrimmedOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// get type name of struct
func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}
