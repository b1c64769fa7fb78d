package messaging

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/framelink/internal/protocol/frame"
	"github.com/danmuck/framelink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type connEvents struct {
	opened chan struct{}
	data   chan Message
	closed chan error
}

func recordConnection(c *Connection) *connEvents {
	ev := &connEvents{
		opened: make(chan struct{}, 4),
		data:   make(chan Message, 256),
		closed: make(chan error, 4),
	}
	c.AddListener(ConnectionHandler{
		Opened:       func(*Connection) { ev.opened <- struct{}{} },
		IncomingData: func(_ *Connection, m Message) { ev.data <- m },
		Closed:       func(_ *Connection, cause error) { ev.closed <- cause },
	})
	return ev
}

func (ev *connEvents) waitOpened(t *testing.T) {
	t.Helper()
	select {
	case <-ev.opened:
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for opened")
	}
}

func (ev *connEvents) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case cause := <-ev.closed:
		return cause
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for closed")
		return nil
	}
}

func (ev *connEvents) waitData(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-ev.data:
		return m
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for incoming data")
		return Message{}
	}
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatalf("receive goroutine did not exit: %s", c)
	}
}

func pipeConnection(t *testing.T, role Role, cfg ConnectionConfig) (*Connection, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	return NewConnection(local, role, cfg), peer
}

func TestConnectionDeliversFragmentedFramesInOrder(t *testing.T) {
	testlog.Start(t)

	c, peer := pipeConnection(t, RoleServer, ConnectionConfig{ChunkSize: 3})
	ev := recordConnection(c)
	require.NoError(t, c.Start())
	ev.waitOpened(t)
	require.Equal(t, StateOpen, c.State())

	var wire []byte
	payloads := []string{"first", "", "third payload is a little longer"}
	for i, p := range payloads {
		b, err := frame.Encode(uint32(i+1), []byte(p), frame.DefaultLimits())
		require.NoError(t, err)
		wire = append(wire, b...)
	}
	go func() {
		for i := range wire {
			if _, err := peer.Write(wire[i : i+1]); err != nil {
				return
			}
		}
	}()

	for i, p := range payloads {
		m := ev.waitData(t)
		assert.Equal(t, uint32(i+1), m.RequestID())
		assert.Equal(t, p, m.Text())
	}
	last, ok := c.LastMessage()
	require.True(t, ok)
	assert.Equal(t, uint32(3), last.RequestID())

	require.NoError(t, peer.Close())
	cause := ev.waitClosed(t)
	require.ErrorIs(t, cause, ErrPeerDisconnected)
	assert.True(t, IsExpectedClose(cause))
	waitDone(t, c)
	assert.Equal(t, uint64(len(wire)), c.BytesReceived())
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, ev.closed)
}

func TestConnectionBadSignatureClosesWithProtocolError(t *testing.T) {
	testlog.Start(t)

	c, peer := pipeConnection(t, RoleServer, DefaultConnectionConfig())
	ev := recordConnection(c)
	require.NoError(t, c.Start())

	go func() {
		_, _ = peer.Write([]byte{0x00, 0, 0, 0, 10, 0, 0, 0, 1, 'x'})
	}()

	cause := ev.waitClosed(t)
	require.ErrorIs(t, cause, frame.ErrBadSignature)
	require.ErrorIs(t, cause, frame.ErrProtocol)
	assert.False(t, IsExpectedClose(cause))
	waitDone(t, c)
	assert.Empty(t, ev.data)
	assert.Zero(t, c.BytesReceived())
}

func TestConnectionCloseIsTerminal(t *testing.T) {
	testlog.Start(t)

	c, _ := pipeConnection(t, RoleClient, DefaultConnectionConfig())
	ev := recordConnection(c)
	require.NoError(t, c.Start())
	ev.waitOpened(t)

	require.NoError(t, c.Close())
	require.NoError(t, ev.waitClosed(t))
	waitDone(t, c)

	err := c.Close()
	require.ErrorIs(t, err, ErrAlreadyClosed)
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, ev.closed)
	require.ErrorIs(t, c.Start(), ErrAlreadyClosed)
}

func TestConnectionShutdownUnblocksRead(t *testing.T) {
	testlog.Start(t)

	c, _ := pipeConnection(t, RoleServer, DefaultConnectionConfig())
	ev := recordConnection(c)
	require.NoError(t, c.Start())
	ev.waitOpened(t)

	require.NoError(t, c.Shutdown())
	require.NoError(t, ev.waitClosed(t))
	waitDone(t, c)
	require.ErrorIs(t, c.Shutdown(), ErrAlreadyClosed)
	assert.Empty(t, ev.closed)
}

func TestConnectionCloseBeforeStart(t *testing.T) {
	testlog.Start(t)

	c, _ := pipeConnection(t, RoleServer, DefaultConnectionConfig())
	ev := recordConnection(c)

	require.NoError(t, c.Close())
	require.NoError(t, ev.waitClosed(t))
	waitDone(t, c)
	require.ErrorIs(t, c.Start(), ErrAlreadyClosed)
	assert.Empty(t, ev.opened)
}

func TestConnectionSendOnClosedNamesRole(t *testing.T) {
	testlog.Start(t)

	server, _ := pipeConnection(t, RoleServer, DefaultConnectionConfig())
	client, _ := pipeConnection(t, RoleClient, DefaultConnectionConfig())

	errS := server.Send(NewTextMessage("x"))
	errC := client.Send(NewTextMessage("x"))
	require.ErrorIs(t, errS, ErrSendOnClosed)
	require.ErrorIs(t, errC, ErrSendOnClosed)
	assert.Contains(t, errS.Error(), "server connection")
	assert.Contains(t, errC.Error(), "client connection")
	assert.NotEqual(t, errS.Error(), errC.Error())
}

func TestConnectionSendWritesOneFrame(t *testing.T) {
	testlog.Start(t)

	c, peer := pipeConnection(t, RoleClient, DefaultConnectionConfig())
	ev := recordConnection(c)
	require.NoError(t, c.Start())
	ev.waitOpened(t)

	msg := NewTextMessage("ping").WithRequestID(1)
	sent := make(chan error, 1)
	go func() { sent <- c.Send(msg) }()

	f, err := frame.ReadFrame(peer, frame.DefaultChunkSize, frame.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, <-sent)
	assert.Equal(t, uint32(1), f.RequestID)
	assert.Equal(t, "ping", string(f.Payload))
	assert.Equal(t, uint64(frame.HeaderLen+4), c.BytesSent())

	require.NoError(t, c.Close())
}

func TestConnectionConcurrentSendsDoNotInterleave(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err == nil {
			accepted <- raw
		}
	}()
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer := <-accepted
	defer peer.Close()

	c := NewConnection(raw, RoleClient, DefaultConnectionConfig())
	ev := recordConnection(c)
	require.NoError(t, c.Start())
	ev.waitOpened(t)

	const senders, perSender = 4, 50
	body := bytes.Repeat([]byte("z"), 3000)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if err := c.Send(NewMessage(body)); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}()
	}

	_ = peer.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := 0; i < senders*perSender; i++ {
		f, err := frame.ReadFrame(peer, 512, frame.DefaultLimits())
		require.NoError(t, err, "frame %d", i)
		require.True(t, bytes.Equal(body, f.Payload), "frame %d payload corrupted", i)
	}
	wg.Wait()
	require.NoError(t, c.Close())
}

func TestConnectionSetChunkSize(t *testing.T) {
	testlog.Start(t)

	c, _ := pipeConnection(t, RoleClient, ConnectionConfig{})
	assert.Equal(t, frame.DefaultChunkSize, c.ChunkSize())
	require.NoError(t, c.SetChunkSize(16))
	assert.Equal(t, 16, c.ChunkSize())
	err := c.SetChunkSize(0)
	require.True(t, errors.Is(err, ErrInvalidChunkSize))
}
