package notify

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// Message types on the socket.
const (
	MessageState        = "state"
	MessageIntervention = "intervention"
	MessageReset        = "reset" // client -> daemon
)

// Message is one newline-delimited JSON frame.
type Message struct {
	Type         string                   `json:"type"`
	Time         time.Time                `json:"time"`
	State        *biometrics.State        `json:"state,omitempty"`
	Intervention *biometrics.Intervention `json:"intervention,omitempty"`
	Text         string                   `json:"text,omitempty"`
}

// SocketServer broadcasts engine updates to watch clients.
type SocketServer struct {
	path      string
	listener  net.Listener
	clients   map[net.Conn]bool
	mu        sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
	onCommand func(Message)
}

// NewSocketServer creates a new Unix socket server.
func NewSocketServer(path string) *SocketServer {
	return &SocketServer{
		path:    path,
		clients: make(map[net.Conn]bool),
		done:    make(chan struct{}),
	}
}

// OnCommand sets the handler for messages sent by clients. Set it before
// Start.
func (s *SocketServer) OnCommand(fn func(Message)) {
	s.onCommand = fn
}

// Start begins listening for connections.
func (s *SocketServer) Start() error {
	// Remove a stale socket from a previous run
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = listener

	// Set permissions so only the user can connect
	os.Chmod(s.path, 0700)

	go s.acceptLoop()
	return nil
}

// Stop shuts down the server. It is safe to call more than once.
func (s *SocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.clients {
			conn.Close()
		}
		s.clients = make(map[net.Conn]bool)
		s.mu.Unlock()

		os.Remove(s.path)
	})
}

// Broadcast sends a message to all connected clients. Clients that cannot
// keep up are dropped.
func (s *SocketServer) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.RLock()
	var slow []net.Conn
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.Write(data); err != nil {
			slow = append(slow, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range slow {
		conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (s *SocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *SocketServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("[socket] Accept error: %v", err)
				continue
			}
		}

		s.mu.Lock()
		s.clients[conn] = true
		s.mu.Unlock()

		log.Printf("[socket] Client connected (%d total)", s.ClientCount())

		go s.handleClient(conn)
	}
}

func (s *SocketServer) handleClient(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		log.Printf("[socket] Client disconnected (%d total)", s.ClientCount())
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if s.onCommand != nil {
			s.onCommand(msg)
		}
	}
}

// SocketClient connects to the daemon socket.
type SocketClient struct {
	conn      net.Conn
	connected bool
	onMessage func(Message)
	mu        sync.Mutex
	closed    chan struct{}
}

// NewSocketClient creates a new socket client.
func NewSocketClient() *SocketClient {
	return &SocketClient{closed: make(chan struct{})}
}

// OnMessage sets the callback for incoming messages. Set it before Connect.
func (c *SocketClient) OnMessage(callback func(Message)) {
	c.onMessage = callback
}

// Connect connects to the socket server.
func (c *SocketClient) Connect(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// Done is closed when the connection ends.
func (c *SocketClient) Done() <-chan struct{} {
	return c.closed
}

// Close closes the connection.
func (c *SocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.connected = false
	}
}

// IsConnected returns whether the client is connected.
func (c *SocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send sends a message to the server.
func (c *SocketClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.conn.Write(data)
	return err
}

func (c *SocketClient) readLoop() {
	defer close(c.closed)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
