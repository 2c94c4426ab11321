package main

import (
	"errors"
	"net/http"
	"time"

	"gpnet"
	"gpnet/conf"
	"gpnet/echo"
	"gpnet/network"
	"gpnet/network/chacha"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/yinyihanbing/gutils/logs"
)

func serveCmd() *cobra.Command {
	var (
		configPath  string
		tcpAddr     string
		wsAddr      string
		metricsAddr string
		secret      string
		idle        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo service",
		Long: `Serve the echo protocol: every RequestEcho (id 1) is answered with a
ResponseEcho (id 3) carrying "Echo: " and the request text.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(configPath)
			if err != nil {
				return err
			}
			if tcpAddr == "" && wsAddr == "" {
				return errors.New("at least one of --tcp and --ws is required")
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := network.NewMetrics(network.WithRegistry(registry))

			m := echo.NewModule()
			g := echo.NewGate(m, cfg, tcpAddr, wsAddr, idle)
			g.Metrics = metrics
			if secret != "" {
				if len(secret) < chacha.MinSecretLen {
					return errors.New("--secret is shorter than 16 bytes")
				}
				g.NewCryptor = serverCryptor([]byte(secret))
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logs.Error("metrics server stopped: %v", err)
					}
				}()
				defer srv.Close()
				logs.Info("metrics served on %v/metrics", metricsAddr)
			}

			gpnet.Run(m, g)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Network config file (yaml, toml or json)")
	cmd.Flags().StringVar(&tcpAddr, "tcp", "127.0.0.1:7100", "TCP listen address")
	cmd.Flags().StringVar(&wsAddr, "ws", "", "Websocket listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Prometheus listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret enabling ChaCha20 framing encryption")
	cmd.Flags().DurationVar(&idle, "idle", 0, "Close connections idle for longer than this")

	return cmd
}

// serverCryptor reads the salt each client sends first. A client that
// fails the exchange is disconnected rather than served in plaintext.
func serverCryptor(secret []byte) func(*network.Connection, network.Channel) (network.Cryptor, error) {
	return func(_ *network.Connection, ch network.Channel) (network.Cryptor, error) {
		cr, err := chacha.ServerHandshake(ch, secret)
		if err != nil {
			return nil, err
		}
		return cr, nil
	}
}
