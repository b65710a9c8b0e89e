package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/pkg/config"
)

// StreamTranscriber bridges raw audio to a streaming speech-to-text
// backend over a bidirectional websocket. Partial hypotheses flow out as
// they arrive; a final hypothesis closes the utterance.
type StreamTranscriber struct {
	cfg config.SpeechConfig
	log *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewStreamTranscriber(cfg config.SpeechConfig, log *zap.Logger) ports.Transcriber {
	return &StreamTranscriber{cfg: cfg, log: log}
}

type asrFrame struct {
	Audio string `json:"audio,omitempty"` // base64 PCM16
	End   bool   `json:"end,omitempty"`
}

type asrSetup struct {
	Language string `json:"language"`
	Interim  bool   `json:"interim_results"`
}

type asrResult struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (t *StreamTranscriber) Transcribe(ctx context.Context, audio <-chan []byte) (<-chan ports.TranscriptChunk, error) {
	if t.cfg.ASRStreamURL == "" {
		return nil, fmt.Errorf("asr stream url not configured")
	}

	streamCtx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.Dial(streamCtx, t.cfg.ASRStreamURL+"?key="+t.cfg.APIKey, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to asr backend: %w", err)
	}

	setup := asrSetup{Language: t.cfg.Language, Interim: true}
	if err := writeJSON(streamCtx, conn, setup); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		cancel()
		return nil, fmt.Errorf("asr setup: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	out := make(chan ports.TranscriptChunk)

	// Writer: audio frames in.
	go func() {
		for {
			select {
			case frame, ok := <-audio:
				if !ok {
					_ = writeJSON(streamCtx, conn, asrFrame{End: true})
					return
				}
				msg := asrFrame{Audio: base64.StdEncoding.EncodeToString(frame)}
				if err := writeJSON(streamCtx, conn, msg); err != nil {
					t.log.Warn("asr audio write failed", zap.Error(err))
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()

	// Reader: transcripts out.
	go func() {
		defer close(out)
		defer t.teardown(conn, cancel)
		for {
			_, data, err := conn.Read(streamCtx)
			if err != nil {
				if streamCtx.Err() == nil {
					t.log.Warn("asr stream closed", zap.Error(err))
				}
				return
			}
			var result asrResult
			if err := json.Unmarshal(data, &result); err != nil {
				t.log.Warn("asr sent malformed frame", zap.Error(err))
				continue
			}
			select {
			case out <- ports.TranscriptChunk{Text: result.Text, Final: result.Final}:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Cancel aborts the in-flight stream; the transcript channel closes.
func (t *StreamTranscriber) Cancel() {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "cancelled")
	}
}

func (t *StreamTranscriber) teardown(conn *websocket.Conn, cancel context.CancelFunc) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn, t.cancel = nil, nil
	}
	t.mu.Unlock()
	cancel()
	conn.Close(websocket.StatusNormalClosure, "done")
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
