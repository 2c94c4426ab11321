package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gpnet/conf"
	"gpnet/echo"
	"gpnet/network"
	"gpnet/network/chacha"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		wsURL      string
		secret     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one echo request and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(configPath)
			if err != nil {
				return err
			}

			client := echo.NewClient(addr, cfg)
			if secret != "" {
				if len(secret) < chacha.MinSecretLen {
					return errors.New("--secret is shorter than 16 bytes")
				}
				client.NewCryptor = clientCryptor([]byte(secret))
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if wsURL != "" {
				err = client.ConnectWS(ctx, wsURL)
			} else {
				err = client.Connect(ctx)
			}
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			reply, err := client.Echo(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Network config file (yaml, toml or json)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7100", "Server TCP address")
	cmd.Flags().StringVar(&wsURL, "ws", "", "Server websocket URL, e.g. ws://127.0.0.1:7101/")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret enabling ChaCha20 framing encryption")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Connect and reply timeout")

	return cmd
}

// clientCryptor sends a fresh salt on every connection it makes.
func clientCryptor(secret []byte) func(*network.Connection, network.Channel) (network.Cryptor, error) {
	return func(_ *network.Connection, ch network.Channel) (network.Cryptor, error) {
		cr, err := chacha.ClientHandshake(ch, secret)
		if err != nil {
			return nil, err
		}
		return cr, nil
	}
}
