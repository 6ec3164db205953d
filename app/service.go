package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/moontrade/flushd/buffer"
	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/sink"
	"github.com/moontrade/flushd/workers"
)

type command func(s *service, args []string) (interface{}, error)

// service executes client commands against the buffer and the flush pool.
type service struct {
	auth      string
	namespace string
	clock     flush.Clock
	store     *buffer.Store
	registry  *workers.Registry
	sched     *flush.Scheduler
	pool      *workers.Pool
	sink      sink.Sink
	started   time.Time
	cmds      map[string]command
}

func (s *service) Auth(auth string) error {
	if s.auth != auth {
		return ErrUnauthorized
	}
	return nil
}

// exec runs a single command. args[0] is the lower case command name.
func (s *service) exec(args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, nil
	}
	cmd, ok := s.cmds[strings.ToLower(args[0])]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownCommand, args[0])
	}
	return cmd(s, args)
}
