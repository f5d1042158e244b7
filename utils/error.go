package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorConflict marks optimistic-concurrency collisions; callers may retry
// against freshly-read state.
var ErrorConflict = errors.New("conflicting concurrent update, please retry")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
