package export

import "codeberg.org/mutker/nvsentinel/internal/errors"

const (
	ErrNoSnapshot   = errors.ErrorCode("export_no_snapshot")
	ErrEncodeFailed = errors.ErrorCode("export_encode_failed")
)
