package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/adapter/speech"
	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/service/session"
	"github.com/seu-repo/contavoz/pkg/config"
)

// clientMessage is the text-frame envelope from the app. Binary frames are
// raw audio and bypass the envelope entirely.
type clientMessage struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Index  int     `json:"index,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// serverMessage is what flows back: turn results, playback events, and
// state changes share one envelope so the client demuxes on "kind".
type serverMessage struct {
	Kind     string                     `json:"kind"` // "result", "playback", "state"
	Result   *domain.VoiceSessionResult `json:"result,omitempty"`
	Playback *speech.PlaybackEvent      `json:"playback,omitempty"`
	State    domain.VoiceSessionState   `json:"state,omitempty"`
}

// SessionStreamHandler owns the bidirectional voice socket: audio and
// typed commands in, results and playback events out.
type SessionStreamHandler struct {
	manager   *session.Manager
	speechCfg config.SpeechConfig
	log       *zap.Logger
}

func NewSessionStreamHandler(manager *session.Manager, speechCfg config.SpeechConfig, log *zap.Logger) *SessionStreamHandler {
	return &SessionStreamHandler{
		manager:   manager,
		speechCfg: speechCfg,
		log:       log,
	}
}

// connWriter serializes writes to one websocket connection; fiber's
// websocket conn is not safe for concurrent writers.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// HandleSession runs one voice session for the life of the connection.
func (h *SessionStreamHandler) HandleSession(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		h.log.Warn("websocket session without user identity")
		c.Close()
		return
	}

	writer := &connWriter{conn: c}
	synth := speech.NewSynthesizer(h.speechCfg, func(event speech.PlaybackEvent) error {
		return writer.writeJSON(serverMessage{Kind: "playback", Playback: &event})
	}, h.log)

	machine := h.manager.Create(userID, synth)
	defer h.manager.Remove(machine.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sendResult := func(res *domain.VoiceSessionResult) {
		if err := writer.writeJSON(serverMessage{Kind: "result", Result: res, State: machine.State()}); err != nil {
			h.log.Warn("failed to deliver turn result", zap.Error(err))
		}
	}

	sendResult(machine.StartSession(ctx))
	defer machine.StopSession(context.Background())

	var (
		audioCh   chan []byte
		audioOnce sync.Once
	)
	startAudio := func() {
		audioOnce.Do(func() {
			audioCh = make(chan []byte, 32)
			results, err := machine.ProcessAudioStream(ctx, audioCh)
			if err != nil {
				h.log.Warn("audio stream unavailable", zap.Error(err))
				audioCh = nil
				return
			}
			go func() {
				for res := range results {
					r := res
					sendResult(&r)
				}
			}()
		})
	}
	defer func() {
		if audioCh != nil {
			close(audioCh)
		}
	}()

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			startAudio()
			if audioCh == nil {
				continue
			}
			frame := make([]byte, len(data))
			copy(frame, data)
			select {
			case audioCh <- frame:
			default:
				// Drop the frame rather than block the read loop; the
				// recognizer tolerates gaps.
			}

		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.log.Debug("malformed client message", zap.Error(err))
				continue
			}
			if res := h.handleCommand(ctx, machine, msg); res != nil {
				sendResult(res)
			}
		}
	}
}

func (h *SessionStreamHandler) handleCommand(ctx context.Context, machine *session.Machine, msg clientMessage) *domain.VoiceSessionResult {
	switch msg.Type {
	case "command":
		return machine.ProcessCommand(ctx, msg.Text)
	case "multi_command":
		return machine.ProcessMultiIntentCommand(ctx, msg.Text)
	case "confirm_batch":
		return machine.ConfirmMultiIntents(ctx)
	case "cancel_batch":
		return machine.CancelMultiIntents(ctx)
	case "cancel_item":
		return machine.CancelMultiIntentItem(ctx, msg.Index)
	case "supplement":
		return machine.SupplementAmount(ctx, msg.Index, msg.Amount)
	case "cancel":
		return machine.CancelCurrentOperation(ctx)
	case "recover":
		if machine.TryRecoverFromError() {
			return &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: "Okay, let's start over."}
		}
		return &domain.VoiceSessionResult{Status: domain.StatusError, ErrorMessage: "There is nothing to recover from."}
	case "stop":
		return machine.StopSession(ctx)
	default:
		h.log.Debug("unknown client message type", zap.String("type", msg.Type))
		return nil
	}
}

// SetupSessionRoutes wires the voice socket into the fiber app.
func SetupSessionRoutes(app *fiber.App, handler *SessionStreamHandler) {
	app.Use("/ws/session", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session", websocket.New(handler.HandleSession))
}
