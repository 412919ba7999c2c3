package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
)

const DefaultSocketPath = "/tmp/tipbot.sock"
const windowsSocketPort = "127.0.0.1:7071"

var osType = runtime.GOOS

// Handler executes one command.
type Handler func(ctx context.Context, req transfer.Request) (transfer.Reply, error)

func NewServer(socketPath string) (*Server, error) {
	var listener net.Listener
	var err error

	if osType == "windows" {
		listener, err = net.Listen("tcp", windowsSocketPort)
	} else {
		if socketPath == "" {
			socketPath = DefaultSocketPath
		}
		// A stale socket file from a previous run blocks Listen.
		if _, statErr := os.Stat(socketPath); statErr == nil {
			if rmErr := os.Remove(socketPath); rmErr != nil {
				return nil, fmt.Errorf("failed to remove existing socket file: %w", rmErr)
			}
		}
		listener, err = net.Listen("unix", socketPath)
	}
	if err != nil {
		return nil, err
	}

	server := &Server{
		listener:    listener,
		commands:    make(chan Command),
		connections: make(map[uint64]net.Conn),
		closed:      make(chan struct{}),
	}

	go server.accept()

	return server, nil
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("ipc accept failed", "error", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection reads one command per connection; the connection is
// closed once its response is written.
func (s *Server) handleConnection(conn net.Conn) {
	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Warn("failed to read ipc command", "error", err)
			writeResponse(conn, Response{Error: "malformed command"})
		}
		conn.Close()
		return
	}

	s.mutex.Lock()
	s.nextKey++
	cmd.key = s.nextKey
	s.connections[cmd.key] = conn
	s.mutex.Unlock()

	select {
	case s.commands <- cmd:
	case <-s.closed:
		s.SendResponse(cmd, Response{ID: cmd.ID, Error: "server shutting down"})
	}
}

// Serve executes incoming commands with h until ctx is done. Each command
// runs in its own goroutine.
func (s *Server) Serve(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case cmd := <-s.commands:
			go func(cmd Command) {
				req := transfer.Request{
					Command:  cmd.Command,
					SenderID: cmd.SenderID,
					ChatID:   cmd.ChatID,
					Args:     cmd.Args,
				}
				reply, err := h(ctx, req)
				resp := Response{ID: cmd.ID}
				if err != nil {
					resp.Error = err.Error()
				} else {
					resp.Result = &reply
				}
				s.SendResponse(cmd, resp)
			}(cmd)
		}
	}
}

func (s *Server) SendResponse(cmd Command, response Response) {
	s.mutex.Lock()
	conn, exists := s.connections[cmd.key]
	delete(s.connections, cmd.key)
	s.mutex.Unlock()

	if !exists {
		logger.Warn("ipc connection for command not found", "id", cmd.ID)
		return
	}
	writeResponse(conn, response)
	conn.Close()
}

func writeResponse(conn net.Conn, response Response) {
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		logger.Warn("failed to write ipc response", "id", response.ID, "error", err)
	}
}

func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	return s.listener.Close()
}

func NewClient(socketPath string) (*Client, error) {
	var conn net.Conn
	var err error

	if osType == "windows" {
		conn, err = net.Dial("tcp", windowsSocketPort)
	} else {
		if socketPath == "" {
			socketPath = DefaultSocketPath
		}
		conn, err = net.Dial("unix", socketPath)
	}
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

// SendCommand sends one command and waits for its reply. The server closes
// the connection after answering, so a Client is good for one command.
func (c *Client) SendCommand(ctx context.Context, req transfer.Request) (*transfer.Reply, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	c.nextID++
	cmd := Command{
		ID:       c.nextID,
		Command:  req.Command,
		SenderID: req.SenderID,
		ChatID:   req.ChatID,
		Args:     req.Args,
	}
	if err := json.NewEncoder(c.conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("error writing command to connection: %w", err)
	}

	var response Response
	if err := json.NewDecoder(c.conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("error reading response from connection: %w", err)
	}
	if response.Error != "" {
		return nil, errors.New(response.Error)
	}
	if response.Result == nil {
		return &transfer.Reply{}, nil
	}
	return response.Result, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
