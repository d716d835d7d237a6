package conn

import (
	"errors"
	"fmt"
	"time"

	"github.com/bilbercode/rtspconn/internal/rtsp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultContinueWaitDuration            = 5 * time.Second
	DefaultDecodeTimeoutDuration           = 10 * time.Second
	DefaultGracefulShutdownTimeoutDuration = 10 * time.Second
	DefaultRequestBufferSize               = 10
	DefaultRequestMaxTimeoutDuration       = 20 * time.Second
	DefaultRequestTimeoutDuration          = 10 * time.Second
	DefaultInitialCSeq                     = rtsp.CSeq(1)
)

var ErrInvalidConfig = errors.New("invalid connection config")

// Config holds the options of a Connection. It is immutable once built; use
// NewConfig to create one. Optional durations are disabled when zero.
type Config struct {
	continueWaitDuration            time.Duration
	decodeTimeoutDuration           time.Duration
	gracefulShutdownTimeoutDuration time.Duration
	requestBufferSize               int
	requestMaxTimeoutDuration       time.Duration
	requestTimeoutDuration          time.Duration
	initialCSeq                     rtsp.CSeq
	logger                          logrus.FieldLogger
	frameHandler                    func(channel uint8, payload []byte)
}

type ConfigOption func(c *Config)

// WithContinueWaitDuration sets how long a request may be serviced before a
// 100 (Continue) response is sent to the peer. Zero disables Continue
// responses.
func WithContinueWaitDuration(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.continueWaitDuration = d
	}
}

// WithDecodeTimeoutDuration sets how long a partially received message may
// take to arrive before the connection is considered dead.
func WithDecodeTimeoutDuration(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.decodeTimeoutDuration = d
	}
}

func WithGracefulShutdownTimeoutDuration(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.gracefulShutdownTimeoutDuration = d
	}
}

// WithRequestBufferSize bounds the number of incoming requests held while
// waiting for their turn to be serviced.
func WithRequestBufferSize(n int) ConfigOption {
	return func(c *Config) {
		c.requestBufferSize = n
	}
}

// WithRequestMaxTimeoutDuration sets the absolute time a request may wait
// for its response. It is not refreshed by Continue responses.
func WithRequestMaxTimeoutDuration(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.requestMaxTimeoutDuration = d
	}
}

// WithRequestTimeoutDuration sets the time a request may wait between
// responses. Every Continue response refreshes it.
func WithRequestTimeoutDuration(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.requestTimeoutDuration = d
	}
}

// WithInitialCSeq sets the first sequence number used for outgoing requests.
func WithInitialCSeq(seq rtsp.CSeq) ConfigOption {
	return func(c *Config) {
		c.initialCSeq = seq
	}
}

func WithLogger(logger logrus.FieldLogger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithInterleavedFrameHandler receives '$' framed data read from the
// connection. The handler runs on the decoding goroutine and must not block.
func WithInterleavedFrameHandler(f func(channel uint8, payload []byte)) ConfigOption {
	return func(c *Config) {
		c.frameHandler = f
	}
}

func DefaultConfig() Config {
	return Config{
		continueWaitDuration:            DefaultContinueWaitDuration,
		decodeTimeoutDuration:           DefaultDecodeTimeoutDuration,
		gracefulShutdownTimeoutDuration: DefaultGracefulShutdownTimeoutDuration,
		requestBufferSize:               DefaultRequestBufferSize,
		requestMaxTimeoutDuration:       DefaultRequestMaxTimeoutDuration,
		requestTimeoutDuration:          DefaultRequestTimeoutDuration,
		initialCSeq:                     DefaultInitialCSeq,
		logger:                          logrus.StandardLogger(),
	}
}

// NewConfig applies opts over DefaultConfig and validates the result.
func NewConfig(opts ...ConfigOption) (Config, error) {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}

	switch {
	case c.requestBufferSize < 1:
		return Config{}, fmt.Errorf("%w: request buffer size must be at least 1, got %d", ErrInvalidConfig, c.requestBufferSize)
	case c.decodeTimeoutDuration <= 0:
		return Config{}, fmt.Errorf("%w: decode timeout must be positive", ErrInvalidConfig)
	case c.gracefulShutdownTimeoutDuration <= 0:
		return Config{}, fmt.Errorf("%w: graceful shutdown timeout must be positive", ErrInvalidConfig)
	case c.continueWaitDuration < 0, c.requestTimeoutDuration < 0, c.requestMaxTimeoutDuration < 0:
		return Config{}, fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c, nil
}

func (c Config) ContinueWaitDuration() time.Duration {
	return c.continueWaitDuration
}

func (c Config) DecodeTimeoutDuration() time.Duration {
	return c.decodeTimeoutDuration
}

func (c Config) GracefulShutdownTimeoutDuration() time.Duration {
	return c.gracefulShutdownTimeoutDuration
}

func (c Config) RequestBufferSize() int {
	return c.requestBufferSize
}

func (c Config) RequestMaxTimeoutDuration() time.Duration {
	return c.requestMaxTimeoutDuration
}

func (c Config) RequestTimeoutDuration() time.Duration {
	return c.requestTimeoutDuration
}

func (c Config) InitialCSeq() rtsp.CSeq {
	return c.initialCSeq
}

func (c Config) Logger() logrus.FieldLogger {
	return c.logger
}
