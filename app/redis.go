package app

import (
	"net"
	"strings"

	"github.com/moontrade/flushd/logger"
	"github.com/tidwall/redcon"
)

type redisClient struct {
	authorized bool
}

func redisCommandToArgs(cmd redcon.Command) []string {
	args := make([]string, len(cmd.Args))
	args[0] = strings.ToLower(string(cmd.Args[0]))
	for i := 1; i < len(cmd.Args); i++ {
		args[i] = string(cmd.Args[i])
	}
	return args
}

func redisServiceExecArgs(s *service, client *redisClient, conn redcon.Conn,
	args [][]string,
) {
	for _, args := range args {
		var (
			resp interface{}
			err  error
		)
		switch args[0] {
		case "quit":
			conn.WriteString("OK")
			conn.Close()
			return
		case "auth":
			if len(args) != 2 {
				err = errWrongNumArgsFor(args[0])
			} else if err = s.Auth(args[1]); err != nil {
				client.authorized = false
			} else {
				client.authorized = true
				resp = redcon.SimpleString("OK")
			}
		default:
			if !client.authorized {
				if err = s.Auth(""); err == nil {
					client.authorized = true
				}
			}
			if !client.authorized {
				break
			}
			switch args[0] {
			case "ping":
				if len(args) == 1 {
					resp = redcon.SimpleString("PONG")
				} else if len(args) == 2 {
					resp = args[1]
				} else {
					err = errWrongNumArgsFor(args[0])
				}
			case "echo":
				if len(args) != 2 {
					err = errWrongNumArgsFor(args[0])
				} else {
					resp = args[1]
				}
			default:
				resp, err = s.exec(args)
			}
		}
		if err != nil {
			logger.Debug(err, "addr", conn.RemoteAddr(), "cmd", args[0], "command failed")
			conn.WriteError(redisError(err))
			continue
		}
		conn.WriteAny(resp)
	}
}

func redisServiceHandler(s *service, ln net.Listener) error {
	return redcon.Serve(ln,
		// handle commands
		func(conn redcon.Conn, cmd redcon.Command) {
			client := conn.Context().(*redisClient)
			var args [][]string
			args = append(args, redisCommandToArgs(cmd))
			for _, cmd := range conn.ReadPipeline() {
				args = append(args, redisCommandToArgs(cmd))
			}
			redisServiceExecArgs(s, client, conn, args)
		},
		// handle opened connection
		func(conn redcon.Conn) bool {
			conn.SetContext(new(redisClient))
			logger.Trace("addr", conn.RemoteAddr(), "connection opened")
			return true
		},
		// handle closed connection
		func(conn redcon.Conn, err error) {
			logger.Trace("addr", conn.RemoteAddr(), "connection closed")
		},
	)
}
