package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type WSClient struct {
	Conn     *websocket.Conn
	Message  chan []byte
	ID       string
	Identity string
	done     chan struct{}
	mu       sync.Mutex
	isClosed bool
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("Ping error for connection %s: %v", cl.ID, err)
				return
			}
		}
	}
}

func (cl *WSClient) writeMessage() {
	defer func() {
		cl.mu.Lock()
		cl.isClosed = true
		cl.Conn.Close()
		cl.mu.Unlock()
	}()

	for {
		select {
		case <-cl.done:
			return
		case payload, ok := <-cl.Message:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteMessage(websocket.TextMessage, payload)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("Error writing to connection %s: %v", cl.ID, err)
				return
			}
		}
	}
}

func (cl *WSClient) send(payload []byte) {
	select {
	case cl.Message <- payload:
	default:
		log.Printf("Dropping frame for connection %s: buffer full", cl.ID)
	}
}

// readMessage drives the connection's inbound side. onFrame is invoked for
// every text frame; onClose runs exactly once after the read loop ends.
func (cl *WSClient) readMessage(onFrame func([]byte), onClose func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in readMessage: %v", r)
		}

		if cl.done != nil {
			close(cl.done)
		}

		onClose()
		log.Printf("Connection %s (%s) disconnected", cl.ID, cl.Identity)
	}()

	cl.Conn.SetReadLimit(512 * 1024)

	for {
		_, message, err := cl.Conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				if closeErr.Code == websocket.CloseNormalClosure ||
					closeErr.Code == websocket.CloseGoingAway ||
					closeErr.Code == websocket.CloseNoStatusReceived {
					break
				}
			}
			log.Printf("Error reading from connection %s: %v", cl.ID, err)
			break
		}

		if onFrame != nil {
			onFrame(message)
		}
	}
}
