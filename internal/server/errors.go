package server

import "codeberg.org/mutker/nvsentinel/internal/errors"

const (
	ErrListenFailed = errors.ErrorCode("server_listen_failed")
	ErrServeFailed  = errors.ErrorCode("server_serve_failed")
)
