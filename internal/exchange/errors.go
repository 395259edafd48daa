package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient covers network failures and 5xx responses that survived
	// the transport retries. The next tick may succeed.
	ErrTransient = errors.New("transient gateway error")

	// ErrAuthExpired means the access token was refused and must be reissued.
	ErrAuthExpired = errors.New("access token expired")
)

// OrderRejectedError is a business rejection from the broker. Retrying the
// same request will not help.
type OrderRejectedError struct {
	Code    string
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("rejected by broker: %s (%s)", e.Message, e.Code)
}

// IsRejected reports whether err carries a broker rejection.
func IsRejected(err error) bool {
	var rej *OrderRejectedError
	return errors.As(err, &rej)
}
