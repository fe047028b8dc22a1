package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/pyr33x/mqttd/internal/logger"
)

// ListenTCP starts the plain-TCP listener (§6 default port 1883).
func ListenTCP(ctx context.Context, port int, admit AdmitFunc, handler Handler, log *logger.Logger) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	log.Info("tcp listener started", logger.Int("port", port))
	go serve(ctx, ln, admit, handler, log, "tcp")
	return nil
}
