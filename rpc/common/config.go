package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Shared transport settings
// --------------------------------------------------------------------------

// SocketConf holds the socket buffer settings shared by all stream transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Channel (slot pool) configuration
// --------------------------------------------------------------------------

// SlotPolicy selects what happens when a request arrives while every slot is taken
type SlotPolicy string

const (
	// SlotPolicyFailFast rejects the request with ErrResourceExhausted
	SlotPolicyFailFast SlotPolicy = "fail-fast"
	// SlotPolicyQueue parks the request until a slot is released
	SlotPolicyQueue SlotPolicy = "queue"
)

const (
	// DefaultSlotCapacity fits a signed one byte slot tag
	DefaultSlotCapacity = 127
)

// ParseSlotPolicy converts a string into a SlotPolicy
func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch SlotPolicy(strings.ToLower(s)) {
	case SlotPolicyFailFast:
		return SlotPolicyFailFast, nil
	case SlotPolicyQueue:
		return SlotPolicyQueue, nil
	default:
		return "", fmt.Errorf("invalid slot policy %q. must be one of %s, %s", s, SlotPolicyFailFast, SlotPolicyQueue)
	}
}

// ChannelConf configures the correlation slot pool of a wire
type ChannelConf struct {
	SlotCapacity int
	Policy       SlotPolicy
}

// Capacity returns the configured slot capacity or the default
func (c ChannelConf) Capacity() int {
	if c.SlotCapacity <= 0 {
		return DefaultSlotCapacity
	}
	return c.SlotCapacity
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport settings of a client
type ClientTransportConfig struct {
	Endpoint   string
	RetryCount int
	Label      string
	SocketConf
	TCPConf
}

// ClientConfig holds all configuration parameters of a wire
type ClientConfig struct {
	TimeoutSecond      int
	CloseTimeoutSecond int
	Channel            ChannelConf
	Transport          ClientTransportConfig
}

// Timeout returns the request timeout, zero means wait forever
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// CloseTimeout returns how long closing a wire waits for in-flight requests
func (c *ClientConfig) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Close Timeout", fmt.Sprintf("%d sec", c.CloseTimeoutSecond))

	// Slot pool
	addSection("Channel")
	addField("Slot Capacity", strconv.Itoa(c.Channel.Capacity()))
	addField("Slot Policy", string(c.Channel.Policy))

	// Transport
	addSection("Transport")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	if c.Transport.Label != "" {
		addField("Label", c.Transport.Label)
	}
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))

	return sb.String()
}

// --------------------------------------------------------------------------
// Development server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds the transport settings of the development server
type ServerTransportConfig struct {
	Endpoint          string
	MaxWorkersPerConn int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters of the development server
type ServerConfig struct {
	TimeoutSecond int64
	Transport     ServerTransportConfig
	LogLevel      string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers per Conn", strconv.Itoa(c.Transport.MaxWorkersPerConn))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
