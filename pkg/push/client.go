package push

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fortiblox/glow/pkg/ledstrip"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Default client values.
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 5 * time.Second
)

// Client errors.
var (
	ErrNoEndpoint = errors.New("push endpoint is required")
	ErrClosed     = errors.New("push client closed")
)

var streamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ClientStreams: true,
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint         string
	UseTLS           bool
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// DialOptions are appended to the client's own options.
	DialOptions []grpc.DialOption
}

// Client streams frames to a remote strip. It implements ledstrip.Pusher.
type Client struct {
	config  ClientConfig
	conn    *grpc.ClientConn
	logger  *zap.Logger
	session string

	mu          sync.Mutex
	stream      grpc.ClientStream
	cancel      context.CancelFunc
	seq         uint64
	coefficient uint16
	closed      bool
}

// Dial connects to the frame sink. The stream itself opens on the first Push.
func Dial(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if config.KeepaliveTime == 0 {
		config.KeepaliveTime = DefaultKeepaliveTime
	}
	if config.KeepaliveTimeout == 0 {
		config.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, config.DialOptions...)

	//nolint:staticcheck // Dial keeps passthrough resolution for plain host:port targets
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	session := uuid.NewString()
	return &Client{
		config:  config,
		conn:    conn,
		logger:  logger.Named("push").With(zap.String("session", session)),
		session: session,
	}, nil
}

// Session returns the id sent with every frame.
func (c *Client) Session() string {
	return c.session
}

// SetCoefficient sets the brightness coefficient sent with later frames.
func (c *Client) SetCoefficient(v uint16) {
	c.mu.Lock()
	c.coefficient = v
	c.mu.Unlock()
}

// Push implements ledstrip.Pusher. A failed send drops the stream; the next
// Push opens a new one.
func (c *Client) Push(frame *ledstrip.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.stream == nil {
		if err := c.openLocked(); err != nil {
			return err
		}
	}

	c.seq++
	msg := &FrameMessage{
		Session:     c.session,
		Seq:         c.seq,
		Coefficient: c.coefficient,
		Leds:        frame.Pack(),
	}
	if err := c.stream.SendMsg(msg); err != nil {
		c.logger.Warn("frame send failed, reopening on next push", zap.Uint64("seq", c.seq), zap.Error(err))
		c.dropLocked()
		return fmt.Errorf("send frame %d: %w", c.seq, err)
	}
	return nil
}

func (c *Client) openLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = metadata.AppendToOutgoingContext(ctx, SessionHeader, c.session)

	stream, err := c.conn.NewStream(ctx, &streamDesc, StreamMethod)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.stream = stream
	c.cancel = cancel
	c.logger.Debug("stream opened")
	return nil
}

func (c *Client) dropLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.stream = nil
	c.cancel = nil
}

// Flush ends the current stream and returns the server's acknowledgement.
// It returns a zero Ack when no stream is open.
func (c *Client) Flush() (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Client) flushLocked() (Ack, error) {
	var ack Ack
	if c.stream == nil {
		return ack, nil
	}
	defer c.dropLocked()

	if err := c.stream.CloseSend(); err != nil {
		return ack, fmt.Errorf("close stream: %w", err)
	}
	if err := c.stream.RecvMsg(&ack); err != nil {
		return ack, fmt.Errorf("receive ack: %w", err)
	}
	c.logger.Debug("stream closed", zap.Uint64("frames", ack.Frames))
	return ack, nil
}

// Close flushes the stream and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_, err := c.flushLocked()
	return errors.Join(err, c.conn.Close())
}
