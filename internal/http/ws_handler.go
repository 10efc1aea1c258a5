package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"room-relay/internal/chat"
)

// WSOptions controla keepalive y limites de la conexion WebSocket.
type WSOptions struct {
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxFrameBytes  int64
	AllowedOrigins []string
}

func (o WSOptions) withDefaults() WSOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 << 10
	}
	return o
}

// WSHandler autentica el handshake y entrega la conexion al hub.
type WSHandler struct {
	logger   *zap.Logger
	hub      *chat.Hub
	upgrader websocket.Upgrader
	opts     WSOptions
}

func NewWSHandler(logger *zap.Logger, hub *chat.Hub, opts WSOptions) *WSHandler {
	opts = opts.withDefaults()
	return &WSHandler{
		logger:   logger,
		hub:      hub,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
	}
}

// makeUpgrader crea un upgrader que solo acepta los origenes permitidos.
// Sin lista, o con "*", acepta todos.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := originsAllowAll(allowedOrigins)
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // clientes que no son navegador
			}
			return originSet[origin]
		},
	}
}

// Connect maneja GET /ws. El token se valida antes del upgrade: un fallo
// responde 401 y no crea sesion.
func (h *WSHandler) Connect(c *gin.Context) {
	identity, err := h.hub.Authenticate(c.Request.Context(), handshakeToken(c.Request))
	if err != nil {
		h.logger.Info("websocket auth rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade ya respondio al cliente
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", identity), zap.Error(err))
		return
	}

	ws := newWSConn(conn, h.opts)
	defer ws.Close()
	if err := h.hub.Serve(c.Request.Context(), identity, ws); err != nil {
		h.logger.Warn("websocket session refused", zap.String("user_id", identity), zap.Error(err))
	}
}

// wsConn adapta una conexion gorilla a chat.Conn. Lecturas y escrituras
// ocurren cada una en una sola goroutine; el ping usa WriteControl, que
// gorilla permite en paralelo.
type wsConn struct {
	conn *websocket.Conn
	opts WSOptions

	stop      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, opts WSOptions) *wsConn {
	ws := &wsConn{
		conn: conn,
		opts: opts,
		stop: make(chan struct{}),
	}
	conn.SetReadLimit(opts.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	go ws.pingLoop()
	return ws
}

func (w *wsConn) ReadFrame() (chat.Frame, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return chat.Frame{}, err
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))

	var frame chat.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return chat.Frame{}, fmt.Errorf("%w: malformed frame", chat.ErrValidation)
	}
	if frame.Event == "" {
		return chat.Frame{}, fmt.Errorf("%w: event is required", chat.ErrValidation)
	}
	return frame, nil
}

func (w *wsConn) WriteFrame(frame chat.Frame) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(frame)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		deadline := time.Now().Add(time.Second)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = w.conn.Close()
	})
	return err
}

func (w *wsConn) pingLoop() {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.opts.WriteTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					_ = w.conn.Close()
				}
				return
			}
		}
	}
}
