package errors

import stderr "errors"

// DBError is the base error returned by the postgres store layer. Where names
// the store operation that failed.
type DBError struct {
	Where   string `json:"where"`
	Message string `json:"message"`
	cause   error
}

func (err *DBError) Error() string {
	return "store." + err.Where + ": " + err.Message
}

func (err *DBError) Unwrap() error { return err.cause }

func NewDBError(where, message string) *DBError {
	return &DBError{Where: where, Message: message}
}

func NewDBInternalError(where string, cause error) *DBError {
	return &DBError{Where: where, Message: cause.Error(), cause: cause}
}

type DBNotFoundError struct {
	DBError
}

func NewDBNotFoundError(where, message string) *DBNotFoundError {
	return &DBNotFoundError{DBError: *NewDBError(where, message)}
}

// DBUniqueViolationError maps Postgres error code 23505.
type DBUniqueViolationError struct {
	DBError
	Column string
}

// DBForeignKeyViolationError maps Postgres error code 23503.
type DBForeignKeyViolationError struct {
	DBError
	ForeignKeyTable string
}

func IsUniqueViolation(err error) bool {
	var uv *DBUniqueViolationError
	return stderr.As(err, &uv)
}
