package identity

import "errors"

var ErrMissingSecret = errors.New("jwt secret cannot be empty")
