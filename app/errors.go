package app

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWrongNumArgs is returned when the arg count is wrong
var ErrWrongNumArgs = errors.New("wrong number of arguments")

// ErrUnauthorized is returned when a client connection has not been authorized
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnknownCommand is returned when a command is not known
var ErrUnknownCommand = errors.New("unknown command")

// ErrDraining is returned for appends after DRAIN
var ErrDraining = errors.New("draining")

func errWrongNumArgsFor(cmd string) error {
	return fmt.Errorf("%w for '%s' command", ErrWrongNumArgs, strings.ToLower(cmd))
}

// redisError renders an error the way redis clients expect, with an upper
// case error code prefix.
func redisError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, ' '); i > 0 && strings.ToUpper(msg[:i]) == msg[:i] {
		return msg
	}
	return "ERR " + msg
}
