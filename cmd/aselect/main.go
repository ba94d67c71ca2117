// Command aselect runs the federated single sign-on server.
// Usage: aselect -config config.yaml
package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/renait/aselect-sub006/internal/adapters/driven/metadata"
	"github.com/renait/aselect-sub006/internal/adapters/driven/metrics"
	"github.com/renait/aselect-sub006/internal/adapters/driven/sessionstore"
	"github.com/renait/aselect-sub006/internal/adapters/driven/signature"
	"github.com/renait/aselect-sub006/internal/adapters/driven/soapclient"
	"github.com/renait/aselect-sub006/internal/adapters/driven/ticketstore"
	"github.com/renait/aselect-sub006/internal/adapters/driving/httpd"
	"github.com/renait/aselect-sub006/internal/config"
	"github.com/renait/aselect-sub006/internal/core/ports"
	"github.com/renait/aselect-sub006/internal/core/services"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	signer, cert, err := loadSigner(cfg.KeyFile, cfg.CertFile)
	if err != nil {
		logger.Fatal("loading signing key", zap.Error(err))
	}

	recorder := metrics.NewPrometheusRecorder()

	var tickets ports.TicketStore
	switch cfg.Tickets.Store {
	case "redis":
		tickets = ticketstore.NewRedisStore(cfg.Tickets.RedisAddr, 0, cfg.Tickets.MaxCount, cfg.TicketTTL(), logger)
	default:
		tickets = ticketstore.NewMemoryStore(cfg.Tickets.MaxCount, cfg.TicketTTL(),
			ticketstore.WithLogger(logger),
			ticketstore.WithMetrics(recorder))
	}

	sessions := sessionstore.NewMemoryStore(cfg.SessionTTL())

	sources := make([]metadata.Source, 0, len(cfg.Partners))
	for _, p := range cfg.Partners {
		if p.Metadata != "" {
			sources = append(sources, metadata.Source{EntityID: p.EntityID, Location: p.Metadata})
		}
	}
	resolver := metadata.NewResolver(sources, cfg.Metadata.Default, cfg.MetadataCacheTTL(),
		metadata.WithLogger(logger),
		metadata.WithMetrics(recorder))

	sigService := signature.NewService(signer, cert, cfg.KeyName, logger)
	soap := soapclient.NewClient(10*time.Second, logger)

	partners := cfg.PartnerMap()

	obo := make(map[string]services.OBOConfig, len(cfg.OnBehalfOf))
	for app, o := range cfg.OnBehalfOf {
		obo[app] = services.OBOConfig{Enabled: o.Enabled, FirstStep: o.FirstStep}
	}

	issuer := services.NewIssuer(services.IssuerConfig{
		ServerID:          cfg.ServerID,
		CookieDomain:      cfg.CookieDomain,
		SSOEnabled:        cfg.SSO.Enabled,
		SSONameCookie:     cfg.SSO.NameCookie,
		AuthSPLevels:      cfg.AuthSPLevels,
		PrivilegedLevel:   cfg.PrivilegedLevel,
		OBO:               obo,
		StoreCookieURL:    cfg.StoreCookieURL,
		StoreCookieSecret: cfg.StoreCookieSecret,
	}, tickets, sessions, resolver, nil, logger, recorder)

	logout := services.NewLogoutService(services.LogoutConfig{
		LocalEntityID: cfg.EntityID,
		Partners:      partners,
	}, tickets, resolver, sigService, sigService, soap, nil, logger, recorder)

	syncSvc := services.NewSessionSyncService(services.SyncConfig{
		LocalEntityID: cfg.EntityID,
		Resource:      cfg.EntityID,
		Partners:      partners,
	}, tickets, sigService, soap, nil, logger, recorder)

	server := httpd.NewServer(cfg.ServerID, issuer, logout, syncSvc,
		tickets, sessions, resolver, sigService, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("server_id", cfg.ServerID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// loadSigner reads the PEM-encoded signing key and certificate.
func loadSigner(keyFile, certFile string) (crypto.Signer, *x509.Certificate, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("%s: no PEM block", keyFile)
	}
	signer, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", keyFile, err)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, nil, err
	}
	block, _ = pem.Decode(certPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("%s: no PEM block", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", certFile, err)
	}
	return signer, cert, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key type %T cannot sign", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format")
}
