package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/chat"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// healthStatus is the /health response body.
type healthStatus struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}

// handleWebSocket upgrades the request, registers a session for it and runs
// the connection worker on the handler goroutine until the connection ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.logger.Info("websocket upgrade failed", log.FieldRemote(r.RemoteAddr), zap.Error(err))
		return
	}

	if !s.trackWorker() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, string(chat.ReasonShutdown))
		_ = conn.WriteControl(websocket.CloseMessage, msg, s.engine.Now().Add(writeControlWait))
		_ = conn.Close()
		return
	}
	defer s.workers.Done()

	sess := session.New(conn, r.RemoteAddr, s.engine.Now())
	if err := s.registry.Register(sess); err != nil {
		s.logger.Error("register session", log.FieldSession(sess.ID()), zap.Error(err))
		_ = conn.Close()
		return
	}
	s.totalConnections.Inc()
	s.logger.Info("session opened", log.FieldSession(sess.ID()), log.FieldRemote(r.RemoteAddr))

	// Shutdown may have snapshotted the registry before Register
	if s.ctx.Err() != nil {
		s.engine.Disconnect(context.Background(), sess, chat.ReasonShutdown)
		return
	}

	newClient(conn, sess, s.engine, s.cfg).serve(s.ctx)
}

// trackWorker adds a connection worker unless shutdown has begun.
func (s *Server) trackWorker() bool {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	if s.closing {
		return false
	}
	s.workers.Add(1)
	return true
}

// handleRoot responds with a plain text liveness message.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat server is running!")
}

// handleHealth reports readiness, which requires a reachable store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := healthStatus{Status: "ok", Store: "ok", Sessions: s.registry.Count()}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: store unreachable", zap.Error(err))
		body.Status = "degraded"
		body.Store = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(payload)
}

// handleTestPage serves an HTML page for exercising the chat protocol by
// hand: authenticate with a token, join a room, send messages.
func handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Warn("write test page", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #9bb; cursor: default; }
        .row { margin: 6px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="tokenInput" placeholder="Access token">
        <button id="authButton" onclick="authenticate()" disabled>Authenticate</button>
    </div>
    <div class="row">
        <input type="text" id="roomInput" value="550e8400-e29b-41d4-a716-446655440000">
        <button id="joinButton" onclick="joinRoom()" disabled>Join room</button>
        <button id="leaveButton" onclick="send({type: 'leave_room'})" disabled>Leave</button>
    </div>
    <div class="row">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let currentRoom = '';
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const statusDiv = document.getElementById('status');
        const controls = ['authButton', 'joinButton', 'leaveButton', 'sendButton', 'messageInput'];

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(id => document.getElementById(id).disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(obj) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(obj));
                addLine('> ' + JSON.stringify(obj), 'blue');
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('Connected'); updateStatus(true); };
            ws.onmessage = (event) => {
                addLine('< ' + event.data, 'green');
                const msg = JSON.parse(event.data);
                if (msg.type === 'room_joined') { currentRoom = msg.room_id; }
                if (msg.type === 'room_left') { currentRoom = ''; }
            };
            ws.onclose = (event) => {
                addLine('Connection closed (' + event.code + ' ' + event.reason + ')');
                updateStatus(false);
                ws = null;
                currentRoom = '';
            };
            ws.onerror = () => addLine('Connection error', 'red');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function authenticate() {
            send({type: 'auth', token: document.getElementById('tokenInput').value.trim()});
        }

        function joinRoom() {
            send({type: 'join_room', room_id: document.getElementById('roomInput').value.trim()});
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content) {
                send({type: 'message', room_id: currentRoom, content: content});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
