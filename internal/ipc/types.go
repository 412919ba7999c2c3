package ipc

import (
	"net"
	"sync"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
)

type Command struct {
	ID       int      `json:"id"`
	Command  string   `json:"command"`
	SenderID string   `json:"sender_id"`
	ChatID   string   `json:"chat_id,omitempty"`
	Args     []string `json:"args"`

	// key is assigned by the server; client IDs are not unique across clients.
	key uint64
}

type Response struct {
	ID     int             `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result *transfer.Reply `json:"result,omitempty"`
}

type Server struct {
	listener    net.Listener
	commands    chan Command
	mutex       sync.Mutex
	nextKey     uint64
	connections map[uint64]net.Conn // Maps command key to the client connection
	closed      chan struct{}
}

type Client struct {
	conn   net.Conn
	nextID int
}
