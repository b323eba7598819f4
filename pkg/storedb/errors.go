package storedb

import "errors"

var (
	ErrOpen          = errors.New("storedb: open database")
	ErrMigrate       = errors.New("storedb: apply migration")
	ErrMissingModule = errors.New("storedb: module name required")
	ErrBadMigration  = errors.New("storedb: invalid migration set")
)
