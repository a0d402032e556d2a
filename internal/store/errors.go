package store

import "errors"

var (
	ErrNotFound   = errors.New("need not found")
	ErrEmptyPatch = errors.New("patch sets no fields")
)
