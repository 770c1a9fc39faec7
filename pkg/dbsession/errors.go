package dbsession

import "errors"

var (
	// ErrInvalidAttachment is returned when a session being released has no
	// record or its connection is no longer valid.
	ErrInvalidAttachment = errors.New("dbsession: invalid attachment")

	// ErrInvalidLock is returned when a session is released more times than
	// it was acquired.
	ErrInvalidLock = errors.New("dbsession: invalid lock")

	// ErrNoReadTransaction is returned when releasing a read transaction on a
	// session that holds no reference taken by GetReadTransaction.
	ErrNoReadTransaction = errors.New("dbsession: no read transaction")

	// ErrMultipleRelease is returned by a release guard called a second time.
	ErrMultipleRelease = errors.New("dbsession: multiple call of release")

	// ErrDisposed is returned once the manager has been disposed.
	ErrDisposed = errors.New("dbsession: manager disposed")
)
