package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServerIP           = "127.0.0.1"
	ServerPort         = 8032
	BufferSize         = 4096  // datagram read buffer
	WindowSize         = 1000  // max outstanding segments
	MaxSequenceNumber  = 65535 // sequence ids wrap to 0 after this
	TimerIntervalMs    = 500   // fixed retransmission interval
	ChunkSize          = 2048  // RDT+ object chunk size
	HandshakeTimeoutMs = 10000
	CompletedCacheSize = 8192
	PayloadPoolSize    = 64

	// MaxSequenceLimit caps the sequence space; the receiver keeps one bit per id.
	MaxSequenceLimit = 1<<24 - 1
)

// AppConfig holds the configuration loaded by the demo programs.
var AppConfig *Config

// Config is the transport configuration. Zero values in a YAML file keep the defaults.
type Config struct {
	ServerIP           string `yaml:"server_ip"`
	ServerPort         int    `yaml:"server_port"`
	BufferSize         int    `yaml:"buffer_size"`
	WindowSize         int    `yaml:"window_size"`
	MaxSequenceNumber  uint32 `yaml:"max_sequence_number"`
	TimerIntervalMs    int    `yaml:"timer_interval_ms"`
	ChunkSize          int    `yaml:"chunk_size"`
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms"` // 0 waits forever
	CompletedCacheSize int    `yaml:"completed_cache_size"`
	PayloadPoolSize    int    `yaml:"payload_pool_size"`
	PacketLossEveryN   int    `yaml:"packet_loss_every_n"` // drop every Nth outbound datagram when > 1
	IPTOS              int    `yaml:"ip_tos"`
	Debug              bool   `yaml:"debug"`
	PoolDebug          bool   `yaml:"pool_debug"`
	ObjectDir          string `yaml:"object_dir"`
}

func DefaultConfig() *Config {
	return &Config{
		ServerIP:           ServerIP,
		ServerPort:         ServerPort,
		BufferSize:         BufferSize,
		WindowSize:         WindowSize,
		MaxSequenceNumber:  MaxSequenceNumber,
		TimerIntervalMs:    TimerIntervalMs,
		ChunkSize:          ChunkSize,
		HandshakeTimeoutMs: HandshakeTimeoutMs,
		CompletedCacheSize: CompletedCacheSize,
		PayloadPoolSize:    PayloadPoolSize,
		ObjectDir:          "objects",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the transport relies on.
func (c *Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	case c.MaxSequenceNumber == 0:
		return fmt.Errorf("max_sequence_number must be positive")
	case c.MaxSequenceNumber > MaxSequenceLimit:
		return fmt.Errorf("max_sequence_number %d exceeds %d", c.MaxSequenceNumber, MaxSequenceLimit)
	case uint64(c.WindowSize) > uint64(c.MaxSequenceNumber)/2:
		// the receiver tells duplicates from new segments by id alone
		return fmt.Errorf("window_size %d must be at most half of max_sequence_number %d", c.WindowSize, c.MaxSequenceNumber)
	case c.TimerIntervalMs <= 0:
		return fmt.Errorf("timer_interval_ms must be positive, got %d", c.TimerIntervalMs)
	case c.ChunkSize <= 0:
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	case c.BufferSize < c.ChunkSize+256:
		return fmt.Errorf("buffer_size %d is too small to hold a %d byte chunk plus headers", c.BufferSize, c.ChunkSize)
	case c.CompletedCacheSize <= 0:
		return fmt.Errorf("completed_cache_size must be positive, got %d", c.CompletedCacheSize)
	case c.HandshakeTimeoutMs < 0:
		return fmt.Errorf("handshake_timeout_ms must not be negative")
	case c.PayloadPoolSize <= 0:
		return fmt.Errorf("payload_pool_size must be positive, got %d", c.PayloadPoolSize)
	}
	return nil
}

func (c *Config) TimerInterval() time.Duration {
	return time.Duration(c.TimerIntervalMs) * time.Millisecond
}

// HandshakeTimeout returns 0 when the handshake should wait indefinitely.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// ServerAddr returns the server address in host:port form.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerIP, c.ServerPort)
}
