package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	tailPollInterval = 500 * time.Millisecond
	tailWriteWait    = 10 * time.Second
)

// TailTaskOutput streams a task's log over a websocket: everything
// written so far, then new bytes as they appear, closing once the
// task reaches a terminal state and the log is drained.
func (s *Server) TailTaskOutput(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if _, err := s.Tasks.Status(id); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		return
	}
	defer conn.Close()

	var offset int64
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		slice, total, err := s.Tasks.Output(id, offset, -1)
		if err != nil {
			return
		}
		if len(slice) > 0 {
			conn.SetWriteDeadline(time.Now().Add(tailWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, slice); err != nil {
				return
			}
			offset += int64(len(slice))
		}

		info, err := s.Tasks.Status(id)
		if err != nil {
			return
		}
		if info.State.Terminal() && offset >= total {
			conn.SetWriteDeadline(time.Now().Add(tailWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(info.State)))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
