package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Load reads a NetworkConfig from configPath (yaml, toml or json) and GPNET_*
// environment variables. A missing file is not an error: defaults fill in.
//
// Environment keys use the mapstructure names, e.g. GPNET_READ_BUFFER_SIZE.
func Load(configPath string) (NetworkConfig, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return NetworkConfig{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultNetworkConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return NetworkConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return NetworkConfig{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GPNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	d := DefaultNetworkConfig()
	v.SetDefault("read_buffer_size", d.ReadBufferSize)
	v.SetDefault("pending_buffer_size", d.PendingBufferSize)
	v.SetDefault("write_buffer_size", d.WriteBufferSize)
	v.SetDefault("pool_capacity", d.PoolCapacity)
	v.SetDefault("byte_order", d.ByteOrder)
	v.SetDefault("thread_group_name", d.ThreadGroupName)
	v.SetDefault("thread_group_size", d.ThreadGroupSize)
	v.SetDefault("thread_group_queue_len", d.ThreadGroupQueueLen)
	v.SetDefault("max_conn_num", d.MaxConnNum)
	v.SetDefault("pending_write_num", d.PendingWriteNum)
	v.SetDefault("close_on_unknown_packet", d.CloseOnUnknownPacket)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// ApplyDefaults replaces zero values with defaults and normalizes the byte
// order, so a partly filled NetworkConfig behaves like the defaults for
// every field it leaves unset.
func ApplyDefaults(cfg *NetworkConfig) {
	d := DefaultNetworkConfig()
	if cfg.PoolCapacity == 0 {
		cfg.PoolCapacity = d.PoolCapacity
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.PendingBufferSize == 0 {
		cfg.PendingBufferSize = d.PendingBufferSize
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = d.WriteBufferSize
	}
	if cfg.ThreadGroupName == "" {
		cfg.ThreadGroupName = d.ThreadGroupName
	}
	if cfg.ThreadGroupQueueLen == 0 {
		cfg.ThreadGroupQueueLen = d.ThreadGroupQueueLen
	}
	if cfg.MaxConnNum == 0 {
		cfg.MaxConnNum = d.MaxConnNum
	}
	if cfg.PendingWriteNum == 0 {
		cfg.PendingWriteNum = d.PendingWriteNum
	}
	cfg.ByteOrder = strings.ToLower(strings.TrimSpace(cfg.ByteOrder))
	if cfg.ByteOrder == "" {
		cfg.ByteOrder = d.ByteOrder
	}
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg NetworkConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.PendingBufferSize < cfg.ReadBufferSize {
		return fmt.Errorf("pending_buffer_size (%d) must not be smaller than read_buffer_size (%d)",
			cfg.PendingBufferSize, cfg.ReadBufferSize)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
