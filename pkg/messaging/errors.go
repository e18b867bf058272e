package messaging

import "errors"

// ErrDrop marks a delivery that can never succeed, such as a malformed body.
var ErrDrop = errors.New("drop message")

func isDrop(err error) bool {
	return errors.Is(err, ErrDrop)
}
