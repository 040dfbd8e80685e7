package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/rrockerd/rrockerd/pkg/auth"
	"github.com/rrockerd/rrockerd/pkg/config"
	"github.com/rrockerd/rrockerd/pkg/isolate"
	"github.com/rrockerd/rrockerd/pkg/log"
	"github.com/rrockerd/rrockerd/pkg/metrics"
	"github.com/rrockerd/rrockerd/pkg/security"
	"github.com/rrockerd/rrockerd/pkg/service"

	_ "github.com/rrockerd/rrockerd/pkg/wire" // registers the gRPC codec the ServiceDesc below dispatches through
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rrockerd daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "mTLS gRPC listen address (overrides config)")
	serveCmd.Flags().String("root-dir", "", "pre-provisioned root filesystem for isolated tasks (overrides config)")
	serveCmd.Flags().String("cert-dir", "", "directory holding node.crt/node.key/ca.crt (overrides config)")
	serveCmd.Flags().Bool("mount-cgroup2", false, "mount cgroup2 in isolated tasks (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Prometheus /metrics listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)

	if !security.CertExists(cfg.CertDir) {
		if err := bootstrapDevCerts(cfg.CertDir); err != nil {
			return fmt.Errorf("bootstrapping certificates: %w", err)
		}
		log.WithComponent("serve").Warn().Str("cert_dir", cfg.CertDir).
			Msg("no certificates found; generated a throwaway CA and server certificate")
	}

	creds, err := loadServerCreds(cfg.CertDir)
	if err != nil {
		return fmt.Errorf("loading server credentials: %w", err)
	}

	svc := service.New(service.Config{RootDir: cfg.RootDir, MountCgroup2: cfg.MountCgroup2})

	collector := metrics.NewCollector(svc.Registry())
	collector.Start()
	defer collector.Stop()

	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.UnaryInterceptor(auth.UnaryInterceptor),
		grpc.StreamInterceptor(auth.StreamInterceptor),
	)
	grpcServer.RegisterService(&serviceDesc, svc)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	metrics.RegisterComponent("grpc", true, "")
	log.WithComponent("serve").Info().Str("addr", cfg.ListenAddr).Msg("listening")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.WithComponent("serve").Error().Err(err).Msg("metrics server exited")
		}
	}()
	if err := isolate.CheckSupport(); err != nil {
		metrics.RegisterComponent("isolate", false, err.Error())
		log.WithComponent("serve").Warn().Err(err).Msg("namespace isolation unavailable on this host")
	} else {
		metrics.RegisterComponent("isolate", true, "")
	}
	log.WithComponent("serve").Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("serve").Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	grpcServer.GracefulStop()
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("root-dir"); v != "" {
		cfg.RootDir = v
	}
	if v, _ := cmd.Flags().GetString("cert-dir"); v != "" {
		cfg.CertDir = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if cmd.Flags().Changed("mount-cgroup2") {
		v, _ := cmd.Flags().GetBool("mount-cgroup2")
		cfg.MountCgroup2 = v
	}
}

// bootstrapDevCerts creates a throwaway CA plus a server certificate
// when an operator starts the daemon without pre-provisioned certs.
// It is meant for local/dev use: the CA is never persisted, so every
// restart invalidates whatever client certificates were issued against
// the previous one.
func bootstrapDevCerts(certDir string) error {
	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return err
	}
	serverCert, err := ca.IssueServerCertificate([]string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	if err != nil {
		return err
	}
	if err := security.SaveCertToFile(serverCert, certDir); err != nil {
		return err
	}
	return security.SaveCACertToFile(ca.GetRootCACert(), certDir)
}

func loadServerCreds(certDir string) (credentials.TransportCredentials, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, err
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return credentials.NewTLS(&tls.Config{
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}), nil
}
