package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	if osType == "windows" {
		t.Skip("unix sockets only")
	}
	path := filepath.Join(t.TempDir(), "tipbot.sock")
	srv, err := NewServer(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, h)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return path
}

func send(t *testing.T, path string, req transfer.Request) (*transfer.Reply, error) {
	t.Helper()
	client, err := NewClient(path)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.SendCommand(ctx, req)
}

func TestRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var got []transfer.Request
	path := startServer(t, func(_ context.Context, req transfer.Request) (transfer.Reply, error) {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return transfer.Reply{
			Text:          "sent to " + req.Args[1],
			Notifications: []transfer.Notification{{UserID: "u-bob", Text: "you got tipped"}},
		}, nil
	})

	reply, err := send(t, path, transfer.Request{Command: "tip", SenderID: "u-alice", ChatID: "chat-1", Args: []string{"xla", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "sent to bob", reply.Text)
	require.Len(t, reply.Notifications, 1)
	assert.Equal(t, "u-bob", reply.Notifications[0].UserID)

	require.Len(t, got, 1)
	assert.Equal(t, transfer.Request{Command: "tip", SenderID: "u-alice", ChatID: "chat-1", Args: []string{"xla", "bob"}}, got[0])
}

func TestRefusalKindSurvivesTransport(t *testing.T) {
	path := startServer(t, func(context.Context, transfer.Request) (transfer.Reply, error) {
		return transfer.Reply{Text: "No wallet available", Kind: transfer.WalletMissing}, nil
	})

	reply, err := send(t, path, transfer.Request{Command: "tip", SenderID: "u"})
	require.NoError(t, err)
	assert.Equal(t, transfer.WalletMissing, reply.Kind)
}

func TestHandlerError(t *testing.T) {
	path := startServer(t, func(context.Context, transfer.Request) (transfer.Reply, error) {
		return transfer.Reply{}, errors.New("usage: register <handle>")
	})

	_, err := send(t, path, transfer.Request{Command: "register", SenderID: "u"})
	assert.EqualError(t, err, "usage: register <handle>")
}

func TestConcurrentClients(t *testing.T) {
	path := startServer(t, func(_ context.Context, req transfer.Request) (transfer.Reply, error) {
		time.Sleep(10 * time.Millisecond)
		return transfer.Reply{Text: req.SenderID}, nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := NewClient(path)
			if err != nil {
				errs <- err
				return
			}
			defer client.Close()

			sender := fmt.Sprintf("u-%d", i)
			reply, err := client.SendCommand(context.Background(), transfer.Request{Command: "balance", SenderID: sender})
			if err != nil {
				errs <- err
				return
			}
			if reply.Text != sender {
				errs <- fmt.Errorf("reply for %s went to %s", reply.Text, sender)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestMalformedCommand(t *testing.T) {
	path := startServer(t, func(context.Context, transfer.Request) (transfer.Reply, error) {
		t.Error("handler must not run")
		return transfer.Reply{}, nil
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte("{not json}\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.Equal(t, "malformed command", resp.Error)
}

func TestNewServerReplacesStaleSocket(t *testing.T) {
	if osType == "windows" {
		t.Skip("unix sockets only")
	}
	path := filepath.Join(t.TempDir(), "stale.sock")

	first, err := NewServer(path)
	require.NoError(t, err)
	// Simulate a crash: the socket file stays behind.
	first.listener.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, first.Close())

	second, err := NewServer(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
	assert.NoError(t, second.Close(), "close is idempotent")
}
