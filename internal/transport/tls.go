package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/pyr33x/mqttd/internal/logger"
)

// ListenTLS starts the TLS listener (§6 default port 8883). The
// caller only invokes this when config.TLSEnabled() — "if absent, the
// TLS listener is not started."
func ListenTLS(ctx context.Context, port int, certFile, keyFile string, admit AdmitFunc, handler Handler, log *logger.Logger) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", port), &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return err
	}
	log.Info("tls listener started", logger.Int("port", port))
	go serve(ctx, ln, admit, handler, log, "tls")
	return nil
}
