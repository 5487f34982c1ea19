package probe

import "codeberg.org/mutker/nvsentinel/internal/errors"

const (
	// Workload errors
	ErrUnknownBenchmark = errors.ErrorCode("probe_unknown_benchmark")
	ErrSetupFailed      = errors.ErrorCode("probe_setup_failed")
	ErrBenchmarkPanic   = errors.ErrorCode("probe_benchmark_panic")

	// Storage errors
	ErrInvalidDBPath         = errors.ErrorCode("probe_invalid_db_path")
	ErrSchemaInitFailed      = errors.ErrorCode("probe_schema_init_failed")
	ErrSchemaVersionMismatch = errors.ErrorCode("probe_schema_version_mismatch")
	ErrTransactionFailed     = errors.ErrorCode("probe_transaction_failed")
	ErrQueryFailed           = errors.ErrorCode("probe_query_failed")
	ErrStorageInit           = errors.ErrInitFailed
	ErrStorageClose          = errors.ErrShutdownFailed
)
