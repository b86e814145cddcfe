// artcache speaks a small subset of the Redis protocol, so any Redis client can read and fill the cache:
// PING, QUIT, GET, SET (with NX, XX and GET), DEL, EXISTS, KEYS, DBSIZE and RESIZE memory|disk <bytes>.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string // Upper case command name.
	args    []string
}

// newRedisCommand converts a command read off the wire.
func newRedisCommand(args [][]byte) redisCommand {
	command := redisCommand{command: strings.ToUpper(string(args[0])), args: make([]string, len(args)-1)}
	for i := 1; i < len(args); i++ {
		command.args[i-1] = string(args[i])
	}
	return command
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       []byte   // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if set.
	isArray         bool     // Writes writeArray, even when empty.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(b []byte) redisOutput {
	if b == nil {
		b = []byte{}
	}
	return redisOutput{writeBulk: b}
}

func writeRedisArray(items []string) redisOutput {
	return redisOutput{writeArray: items, isArray: true}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo sends the output to `conn`.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		conn.WriteBulk(o.writeBulk)
	case o.isArray:
		conn.WriteArray(len(o.writeArray))
		for _, item := range o.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(o.writeString)
	}
}

type redisHandler struct {
	backend *CacheBackend
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(backend *CacheBackend) (*redisHandler, error) {
	if backend == nil {
		return nil, errors.New("expected a non-nil backend")
	}
	return &redisHandler{backend: backend}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch cmd.command {
	case "PING":
		if len(cmd.args) > 1 {
			return wrongArgCount(cmd.command)
		} else if len(cmd.args) == 1 {
			return writeRedisBulk([]byte(cmd.args[0]))
		}
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		return rh.handleSet(cmd)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArgCount(cmd.command)
		}
		if value, found, err := rh.backend.Get(cmd.args[0]); err != nil {
			return writeRedisError(err)
		} else if !found {
			return writeRedisNil()
		} else {
			return writeRedisBulk(value)
		}
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArgCount(cmd.command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if rh.backend.Delete(key) {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArgCount(cmd.command)
		}
		existing := 0
		for _, key := range cmd.args { // Repeated keys are counted again, like Redis does.
			if rh.backend.Exists(key) {
				existing++
			}
		}
		return writeRedisInt(existing)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArgCount(cmd.command)
		}
		keys, err := rh.backend.Keys(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisArray(keys)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArgCount(cmd.command)
		}
		return writeRedisInt(rh.backend.Len())
	case "RESIZE":
		if len(cmd.args) != 2 {
			return wrongArgCount(cmd.command)
		}
		capacity, err := strconv.ParseInt(cmd.args[1], 10, 64)
		if err != nil {
			return writeRedisError(errors.New("value is not an integer or out of range"))
		}
		if err := rh.backend.Resize(strings.ToLower(cmd.args[0]), capacity); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// handleSet serves `SET key value [NX | XX] [GET]`.
func (rh *redisHandler) handleSet(cmd redisCommand) redisOutput {
	if len(cmd.args) < 2 {
		return wrongArgCount(cmd.command)
	}
	setCmd := SetCommand{key: cmd.args[0], value: []byte(cmd.args[1])}
	for _, option := range cmd.args[2:] {
		switch strings.ToUpper(option) {
		case "NX":
			if setCmd.existence != noCheck {
				return writeRedisError(errors.New("syntax error"))
			}
			setCmd.existence = ifNotExists
		case "XX":
			if setCmd.existence != noCheck {
				return writeRedisError(errors.New("syntax error"))
			}
			setCmd.existence = ifExists
		case "GET":
			setCmd.get = true
		default:
			return writeRedisError(errors.New("syntax error"))
		}
	}

	result := rh.backend.Set(setCmd)
	switch {
	case result.err != nil:
		return writeRedisError(result.err)
	case setCmd.get && result.hasPreviousValue:
		return writeRedisBulk(result.previousValue)
	case setCmd.get, !result.couldSet:
		return writeRedisNil()
	default:
		return writeRedisString(RedisOk)
	}
}

// RunRedisServer starts a Redis protocol server over `backend` and closes the backend when `ctx` is done.
func RunRedisServer(ctx context.Context, backend *CacheBackend) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(backend)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			output := redisHandler.handle(newRedisCommand(cmd.Args))
			output.writeTo(conn)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "remote", conn.RemoteAddr(), "err", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with error.", "remote", conn.RemoteAddr(), "err", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		slog.Info("Serving Redis protocol.", "address", *address)
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		serverErr := redisServer.Close()
		backendErr := backend.Close()
		if exitErr := errors.Join(serverErr, backendErr); exitErr != nil {
			return fmt.Errorf("failed to close artcache: %w", exitErr)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
