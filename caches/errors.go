package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache storage failed for reason : %s ", ve.Reason)
}

var (
	ErrNoCacheItem = errors.New("no value found in cache")
	ErrNoStore     = errors.New("cache store does not exist")
)
