package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Conn is a websocket client. Outbound frames go through a bounded send
// buffer drained by writePump; inbound frames are read by readPump.
type Conn struct {
	ws        *websocket.Conn
	info      ConnInfo
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newConn(ws *websocket.Conn, info ConnInfo, sendBuffer int, log zerolog.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{
		ws:   ws,
		info: info,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log: log.With().
			Str("conn_id", info.ConnID).
			Int64("user_id", info.UserID).
			Logger(),
	}
}

func (c *Conn) ID() string { return c.info.ConnID }

func (c *Conn) UserID() int64 { return c.info.UserID }

func (c *Conn) Info() ConnInfo { return c.info }

func (c *Conn) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if !c.write(websocket.TextMessage, payload) {
				c.Close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msgType int, payload []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("websocket write failed")
		}
		return false
	}
	return true
}

// readPump calls handle for each inbound text frame until the socket fails.
// It returns the close reason.
func (c *Conn) readPump(maxFrameBytes int64, handle func([]byte)) string {
	if maxFrameBytes > 0 {
		c.ws.SetReadLimit(maxFrameBytes)
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return err.Error()
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(raw)
	}
}
