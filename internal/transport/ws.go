package transport

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/pyr33x/mqttd/internal/logger"
)

// ListenWS starts the WebSocket listener (§6, §4.I: "WS negotiates the
// mqtt subprotocol"): websocket.Accept negotiates the handshake, then
// websocket.NetConn wraps the result as a plain net.Conn so the rest
// of the stack needs no WS-specific handling anywhere.
func ListenWS(ctx context.Context, port int, admit AdmitFunc, handler Handler, log *logger.Logger) error {
	var refused int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if admit != nil && !admit() {
			refused++
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"mqtt"},
		})
		if err != nil {
			log.LogError(err, "ws accept error")
			return
		}

		nc := websocket.NetConn(context.Background(), c, websocket.MessageBinary)
		handler(newConn(nc))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info("ws listener started", logger.Int("port", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "ws listener stopped")
		}
	}()
	return nil
}
