// Package payload converts application values to frame payload bytes and back.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrInvalidUTF8 = errors.New("payload: invalid utf-8")

// Codec turns a value into payload bytes and back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// UTF8 carries text payloads.
type UTF8 struct{}

func (UTF8) Encode(v string) ([]byte, error) {
	if !utf8.ValidString(v) {
		return nil, ErrInvalidUTF8
	}
	return []byte(v), nil
}

func (UTF8) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// JSON carries any value encoding/json can handle.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload: json encode: %w", err)
	}
	return b, nil
}

func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("payload: json decode: %w", err)
	}
	return v, nil
}
