// Package tls serves the API over HTTPS with certificates managed by CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool
	DNS      DNSConfig

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DNSConfig identifies the Azure DNS zone answering DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // user-assigned managed identity; empty uses the system identity
}

// Validate checks the settings needed to obtain certificates.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case len(c.Domains) == 0:
		return errors.New("TLS enabled but no domains specified")
	case c.Email == "":
		return errors.New("TLS enabled but no email specified")
	case c.DNS.SubscriptionID == "" || c.DNS.ResourceGroupName == "":
		return errors.New("TLS enabled but Azure DNS subscription or resource group missing")
	}
	return nil
}

// Server serves a handler over HTTPS, or plain HTTP when TLS is disabled.
type Server struct {
	config  Config
	handler http.Handler
	logger  *slog.Logger

	magic     *certmagic.Config
	cache     *certmagic.Cache
	tlsConfig *tls.Config

	mu     sync.Mutex
	server *http.Server
}

// NewServer prepares the certificate manager. No certificates are requested
// until ManageCertificates is called.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{config: cfg, handler: handler, logger: logger}
	if cfg.Enabled {
		s.configureCertMagic()
	}
	return s, nil
}

func (s *Server) configureCertMagic() {
	template := certmagic.Config{}
	if s.config.CacheDir != "" {
		template.Storage = &certmagic.FileStorage{Path: s.config.CacheDir}
	}

	s.cache = certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (*certmagic.Config, error) {
			return s.magic, nil
		},
	})
	s.magic = certmagic.New(s.cache, template)

	ca := certmagic.LetsEncryptProductionCA
	if s.config.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}
	issuer := certmagic.NewACMEIssuer(s.magic, certmagic.ACMEIssuer{
		CA:     ca,
		Email:  s.config.Email,
		Agreed: true,
		// DNS-01 only; ports 80 and 443 need not be reachable from the CA.
		DisableHTTPChallenge:    true,
		DisableTLSALPNChallenge: true,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    s.config.DNS.SubscriptionID,
					ResourceGroupName: s.config.DNS.ResourceGroupName,
					ClientId:          s.config.DNS.ClientID,
				},
			},
		},
	})
	s.magic.Issuers = []certmagic.Issuer{issuer}

	s.tlsConfig = s.magic.TLSConfig()
	s.tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, s.tlsConfig.NextProtos...)
}

// ListenAndServe blocks serving on addr. It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	var err error
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", "address", addr, "domains", s.config.Domains)
		err = server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", addr)
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the server and stops certificate maintenance.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if s.cache != nil {
		defer s.cache.Stop()
	}
	if server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTPS server")
	return server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration, or nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// ManageCertificates obtains or renews certificates for the configured
// domains and keeps them renewed in the background.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if s.magic == nil {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates ready")
	return nil
}
