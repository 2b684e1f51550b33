package webserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TLSReloader serves a certificate pair from disk and picks up renewals.
type TLSReloader struct {
	certFile string
	keyFile  string
	logger   *zap.Logger

	mu          sync.RWMutex
	cert        *tls.Certificate
	lastModCert time.Time
	lastModKey  time.Time
}

func NewTLSReloader(certFile, keyFile string, logger *zap.Logger) (*TLSReloader, error) {
	r := &TLSReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.With(zap.String("component", "tls")),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TLSReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.lastModCert = certInfo.ModTime()
	r.lastModKey = keyInfo.ModTime()
	r.mu.Unlock()

	r.logger.Info("TLS certificates loaded", zap.String("cert", r.certFile))
	return nil
}

// ReloadIfChanged reloads the pair when either file is newer than the loaded one.
func (r *TLSReloader) ReloadIfChanged() (bool, error) {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false, err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	changed := certInfo.ModTime().After(r.lastModCert) || keyInfo.ModTime().After(r.lastModKey)
	r.mu.RUnlock()
	if !changed {
		return false, nil
	}
	return true, r.reload()
}

// Watch polls the files every interval until ctx is done.
func (r *TLSReloader) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReloadIfChanged(); err != nil {
				r.logger.Warn("Failed to reload certificates", zap.Error(err))
			}
		}
	}
}

func (r *TLSReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *TLSReloader) Config() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
}
