package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"

	"chat-sync/internal/remote"
)

// classify maps driver errors onto the remote error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrRejected) || errors.Is(err, remote.ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P0") {
			return fmt.Errorf("%w: %s", remote.ErrTransient, pqErr.Message)
		}
		return fmt.Errorf("%w: %s (%s)", remote.ErrRejected, pqErr.Message, pqErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	return err
}
