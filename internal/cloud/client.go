// Package cloud provides communication with the plant-care service.
// Uses HTTPS REST for message submission and WebSocket for real-time
// delivery in both directions.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/floralink/plant-companion/internal/protocol"
)

// Config holds cloud client configuration
type Config struct {
	BaseURL      string // REST API base URL (https://api.floralink.io/api/v1/device)
	WebSocketURL string // WebSocket URL (wss://api.floralink.io/ws/device)
	DeviceID     string // Device UUID
	APIKey       string // API key for authentication

	PingInterval time.Duration // Interval for ping/keepalive
	WriteTimeout time.Duration // Timeout for write operations
	ReadTimeout  time.Duration // Timeout for read operations
	HTTPTimeout  time.Duration // Timeout for HTTP requests

	// Reconnection settings (exponential backoff)
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// DefaultConfig returns default cloud client configuration
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		HTTPTimeout:       30 * time.Second,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.25,
	}
}

// Client handles communication with the plant-care service
type Client struct {
	config     Config
	httpClient *http.Client
	conn       *websocket.Conn
	sendChan   chan *protocol.Envelope
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	connected  bool

	// Current retry delay for exponential backoff
	currentRetryDelay time.Duration

	onMessage func(*protocol.Envelope)
}

// New creates a new cloud client
func New(config Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		sendChan:          make(chan *protocol.Envelope, 100),
		stopChan:          make(chan struct{}),
		currentRetryDelay: config.InitialRetryDelay,
	}
}

// SetMessageCallback sets the callback for inbound envelopes. The callback
// runs on the read loop goroutine.
func (c *Client) SetMessageCallback(cb func(*protocol.Envelope)) {
	c.mu.Lock()
	c.onMessage = cb
	c.mu.Unlock()
}

// Start connects to the service and starts the WebSocket message loops
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Stop disconnects from the service and stops all loops
func (c *Client) Stop() error {
	close(c.stopChan)
	c.wg.Wait()
	return nil
}

// IsConnected returns whether the WebSocket is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendWebSocket queues an envelope for the write loop. Returns an error when
// the socket is down or the queue is full, so the caller can retry over REST.
func (c *Client) SendWebSocket(env *protocol.Envelope) error {
	if !c.IsConnected() {
		return fmt.Errorf("cloud: websocket not connected")
	}
	select {
	case c.sendChan <- env:
		return nil
	default:
		return fmt.Errorf("cloud: send queue full")
	}
}

// PostMessage submits an envelope over REST.
func (c *Client) PostMessage(ctx context.Context, env *protocol.Envelope) error {
	return c.postJSON(ctx, "/messages", env)
}

// postJSON sends a POST request with JSON body to the REST API
func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := c.config.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.APIKey)
	req.Header.Set("X-Device-Token", c.config.DeviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// connectionLoop manages the WebSocket connection with exponential backoff
func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		case <-ctx.Done():
			c.disconnect()
			return
		default:
		}

		// Attempt to connect
		if err := c.connect(); err != nil {
			log.Printf("Failed to connect to cloud: %v", err)
			c.waitWithBackoff()
			continue
		}

		// Reset retry delay on successful connection
		c.currentRetryDelay = c.config.InitialRetryDelay

		// Run read/write loops until disconnected
		c.runMessageLoops(ctx)

		// Disconnected, wait before reconnecting
		log.Println("Disconnected from cloud, reconnecting...")
		c.waitWithBackoff()
	}
}

// waitWithBackoff waits for the current retry delay with jitter
func (c *Client) waitWithBackoff() {
	// Add jitter
	jitter := c.currentRetryDelay.Seconds() * c.config.JitterPercent * (rand.Float64()*2 - 1)
	delay := c.currentRetryDelay + time.Duration(jitter*float64(time.Second))

	time.Sleep(delay)

	// Increase delay for next time (exponential backoff)
	c.currentRetryDelay = time.Duration(float64(c.currentRetryDelay) * c.config.BackoffMultiplier)
	if c.currentRetryDelay > c.config.MaxRetryDelay {
		c.currentRetryDelay = c.config.MaxRetryDelay
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect() error {
	wsURL := fmt.Sprintf("%s?api_key=%s&device_id=%s",
		c.config.WebSocketURL, c.config.APIKey, c.config.DeviceID)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Printf("Connected to cloud WebSocket: %s", c.config.WebSocketURL)
	return nil
}

// disconnect closes the WebSocket connection
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// runMessageLoops runs the read and write loops
func (c *Client) runMessageLoops(ctx context.Context) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, done)
	}()

	wg.Wait()
	c.disconnect()
}

// readLoop reads envelopes from the WebSocket
func (c *Client) readLoop(done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Failed to parse message: %v", err)
			continue
		}

		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(env)
		}
	}
}

// writeLoop sends envelopes to the WebSocket
func (c *Client) writeLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return

		case env := <-c.sendChan:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			data, err := env.Encode()
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			// Send WebSocket ping frame
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Ping failed: %v", err)
				return
			}
		}
	}
}
