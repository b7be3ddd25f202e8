package carrier

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/birddigital/callbridge/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades an HTTP request to a WebSocket and wraps it as a Stream.
// The caller supplies Callbacks before calling ReceiveLoop.
func Accept(w http.ResponseWriter, r *http.Request, cb Callbacks, log *logging.Logger) (*Stream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, cb, log), nil
}
