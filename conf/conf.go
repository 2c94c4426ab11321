package conf

import (
	"encoding/binary"
	"time"
)

// LenStackBuf defines the length of the stack buffer used when logging recovered panics.
var (
	LenStackBuf = 4096

	// gate configuration
	TCPAddr     string        // address of the packet tcp listener
	WSAddr      string        // address of the packet websocket listener
	IdleTimeout time.Duration // connections silent for longer are closed, 0 disables

	// cluster configuration
	ListenAddr string   // address to listen for peer servers
	ConnAddrs  []string // peer servers to keep connected to
)

// MaxFrameLen is the largest frame the 2-byte length header can describe.
const MaxFrameLen = 1<<16 - 1

// Byte orders accepted by NetworkConfig.ByteOrder.
const (
	BigEndian    = "big"
	LittleEndian = "little"
)

// NetworkConfig holds buffer sizing, wire byte order and task group sizing.
// It is copied by value into the allocator and every network at construction
// and never mutated afterwards.
type NetworkConfig struct {
	// ReadBufferSize is the capacity of the region each read lands in.
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"gte=16,lte=1048576"`

	// PendingBufferSize is the capacity of the reassembly region.
	PendingBufferSize int `mapstructure:"pending_buffer_size" validate:"gte=16,lte=1048576"`

	// WriteBufferSize is the capacity of the outbound serialization region.
	WriteBufferSize int `mapstructure:"write_buffer_size" validate:"gte=16,lte=1048576"`

	// PoolCapacity bounds the number of idle regions kept per flavor. Zero
	// means the default, a negative value disables pooling.
	PoolCapacity int `mapstructure:"pool_capacity"`

	// ByteOrder of the length and id fields: "big" or "little".
	ByteOrder string `mapstructure:"byte_order" validate:"oneof=big little"`

	// ThreadGroupName labels the dispatch task group in logs.
	ThreadGroupName string `mapstructure:"thread_group_name" validate:"required"`

	// ThreadGroupSize is the number of dispatch workers, 0 dispatches on the read goroutine.
	ThreadGroupSize int `mapstructure:"thread_group_size" validate:"gte=0,lte=1024"`

	// ThreadGroupQueueLen is the backlog of each dispatch worker.
	ThreadGroupQueueLen int `mapstructure:"thread_group_queue_len" validate:"gte=1"`

	// MaxConnNum caps live server connections.
	MaxConnNum int `mapstructure:"max_conn_num" validate:"gte=1"`

	// PendingWriteNum caps queued outbound packets per connection.
	PendingWriteNum int `mapstructure:"pending_write_num" validate:"gte=1"`

	// CloseOnUnknownPacket closes the connection on a frame with an
	// unregistered id. By default such frames are logged and skipped.
	CloseOnUnknownPacket bool `mapstructure:"close_on_unknown_packet"`
}

// DefaultNetworkConfig returns the configuration used when nothing is supplied.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ReadBufferSize:      64 * 1024,
		PendingBufferSize:   64 * 1024,
		WriteBufferSize:     64 * 1024,
		PoolCapacity:        1024,
		ByteOrder:           BigEndian,
		ThreadGroupName:     "gpnet",
		ThreadGroupSize:     0,
		ThreadGroupQueueLen: 1024,
		MaxConnNum:          10000,
		PendingWriteNum:     1024,
	}
}

// Order returns the binary.ByteOrder named by ByteOrder.
func (c NetworkConfig) Order() binary.ByteOrder {
	if c.ByteOrder == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
