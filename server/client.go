package server

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/meshgate/gateway/errors"
)

// WebSocket timeout constants, following Gorilla's own chat example.
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 * 1024 * 1024 // 10MB, generous enough for transfer metadata frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// FrameType discriminates the three JSON frame kinds the protocol carries
// over one socket. Binary frames (transfer chunks) never decode to this
// shape — they're detected by websocket message type, not by this field.
type FrameType string

const (
	FrameReq FrameType = "req"
	FrameRes FrameType = "res"
	FrameEvt FrameType = "evt"
)

// ReqFrame is a client- or node-originated call: {type:"req", id, method, params?}.
type ReqFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResFrame replies to a ReqFrame by id, carrying either a payload or an error.
type ResFrame struct {
	Type    FrameType        `json:"type"`
	ID      string           `json:"id"`
	OK      bool             `json:"ok"`
	Payload interface{}      `json:"payload,omitempty"`
	Error   *GatewayErrorWire `json:"error,omitempty"`
}

// EvtFrame is an unsolicited, gateway-initiated notification.
type EvtFrame struct {
	Type    FrameType   `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
}

// GatewayErrorWire is the wire shape of a failed ResFrame's error field.
type GatewayErrorWire struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

// serveWS upgrades an HTTP request to a WebSocket and admits the resulting
// connection into the hub as a ModeClient peer. Node and channel adapters
// send `connect` as their first req to switch mode (see dispatchConnect).
func (s *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err.Error())
		return
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		Mode:        ModeClient,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, MaxClientMessageQueueSize),
	}

	s.register <- conn

	s.wg.Add(2)
	go s.writePump(conn, ws)
	go s.readPump(conn, ws)
}

// readPump reads frames off the socket and dispatches them. It owns the
// read side exclusively; writePump owns the write side. The two never
// touch the same websocket.Conn method concurrently.
func (s *Gateway) readPump(conn *Connection, ws *websocket.Conn) {
	defer func() {
		s.unregister <- conn
		ws.Close()
		s.wg.Done()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadError(conn, err)
			return
		}

		if msgType == websocket.BinaryMessage {
			s.handleTransferChunk(conn, data)
			continue
		}

		var frame ReqFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debugw("dropping malformed frame", "conn_id", conn.ID, "error", err.Error())
			continue
		}
		if frame.Type != FrameReq {
			continue
		}

		s.dispatch(conn, ws, &frame)
	}
}

func (s *Gateway) logReadError(conn *Connection, err error) {
	if closeErr, ok := err.(*websocket.CloseError); ok {
		s.logger.Infow("websocket closed", "conn_id", conn.ID, "code", closeErr.Code, "text", closeErr.Text)
		return
	}
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		s.logger.Warnw("websocket read error", "conn_id", conn.ID, "error", errors.Wrap(err, "read frame").Error())
	}
}

// writePump is the single writer for one connection's socket: it drains
// conn.send (populated only by the broadcast worker) and sends periodic
// pings. Having exactly one goroutine per connection ever call WriteMessage
// is what makes the broadcast worker's fan-out safe.
func (s *Gateway) writePump(conn *Connection, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
		s.wg.Done()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-conn.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debugw("write error", "conn_id", conn.ID, "error", err.Error())
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeRes marshals a ResFrame and queues it for delivery, non-blocking
// via the broadcast worker so a slow client can't stall the dispatcher.
func (s *Gateway) writeRes(conn *Connection, id string, payload interface{}, gwErr *GatewayError) {
	res := ResFrame{Type: FrameRes, ID: id}
	if gwErr != nil {
		res.OK = false
		res.Error = &GatewayErrorWire{Code: gwErr.Code, Message: gwErr.Message, Details: gwErr.Details, Retryable: gwErr.Retryable}
	} else {
		res.OK = true
		res.Payload = payload
	}

	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warnw("failed to marshal response frame", "conn_id", conn.ID, "error", err.Error())
		return
	}
	s.SendFrame(conn, data)
}

// writeEvt marshals an EvtFrame and queues it for delivery to one connection.
func (s *Gateway) writeEvt(conn *Connection, event string, payload interface{}) {
	data, err := json.Marshal(EvtFrame{Type: FrameEvt, Event: event, Payload: payload})
	if err != nil {
		s.logger.Warnw("failed to marshal event frame", "conn_id", conn.ID, "error", err.Error())
		return
	}
	s.SendFrame(conn, data)
}

// handleTransferChunk routes an opaque binary frame (4-byte little-endian
// transferId + raw bytes) to the transfer subsystem without decoding it
// as JSON.
func (s *Gateway) handleTransferChunk(conn *Connection, data []byte) {
	if len(data) < 4 {
		s.logger.Debugw("binary frame too short to carry a transferId", "conn_id", conn.ID, "len", len(data))
		return
	}
	transferID := binary.LittleEndian.Uint32(data[:4])
	chunk := data[4:]
	s.handleTransferBytes(conn, transferID, chunk)
}
