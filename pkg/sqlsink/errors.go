package sqlsink

import "errors"

var (
	ErrUnterminatedLiteral = errors.New("sqlsink: unterminated string literal")
	ErrMissingSQL          = errors.New("sqlsink: SQL statement required")
	ErrCompileParameter    = errors.New("sqlsink: compile parameter pattern")
	ErrOpenDB              = errors.New("sqlsink: open database")
	ErrFlush               = errors.New("sqlsink: flush buffer")
	ErrBind                = errors.New("sqlsink: bind parameters")
	ErrSinkClosed          = errors.New("sqlsink: sink closed")
	ErrCloseDB             = errors.New("sqlsink: close database")
)
