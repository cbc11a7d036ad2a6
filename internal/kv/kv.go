// Package kv persists small JSON documents under string keys. It stands in for
// browser local storage: the session blob lives under a single key per client.
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound    = errors.New("kv: key not found")
	ErrInvalidJSON = errors.New("kv: value is not a JSON document")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

func checkValue(value []byte) error {
	if !json.Valid(value) {
		return ErrInvalidJSON
	}
	return nil
}
