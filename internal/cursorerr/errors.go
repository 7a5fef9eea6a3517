// Package cursorerr defines the error kinds of spec §7 as cockroachdb/
// errors sentinel markers, shared by every component so callers can test
// for a kind with errors.Is regardless of which layer raised it.
package cursorerr

import "github.com/cockroachdb/errors"

// Sentinel kinds. Components wrap the underlying cause with errors.Wrap
// and attach one of these with errors.Mark so errors.Is(err, KindX)
// keeps working across wrapping.
var (
	InvalidArgument  = errors.New("invalid_argument")
	InvalidMarkDelete = errors.New("invalid_mark_delete")
	CursorAlreadyClosed = errors.New("cursor_already_closed")
	BrokenCursor      = errors.New("broken_cursor")
	MetaStoreError    = errors.New("meta_store_error")
	MetaStoreBadVersion = errors.New("meta_store_bad_version")
	LogReadError      = errors.New("log_read_error")
	LogWriteError     = errors.New("log_write_error")
	LedgerNotExist    = errors.New("ledger_not_exist")
	FindEntryFailed   = errors.New("find_entry_failed")
)

// Mark wraps err with msg and tags it with kind, so that
// errors.Is(result, kind) reports true while errors.Cause(result)
// remains err.
func Mark(err error, kind error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), kind)
}
