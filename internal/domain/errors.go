package domain

import "errors"

// ErrEmailExists reports a registration against an already taken address
var ErrEmailExists = errors.New("email already registered")
