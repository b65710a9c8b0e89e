package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// SimulatorConfig holds the simulator configuration
type SimulatorConfig struct {
	ServerURL string
	Token     string
	StepDelay time.Duration
}

// clientMessage mirrors the voice socket's text-frame envelope.
type clientMessage struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Index  int     `json:"index,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// serverMessage mirrors the envelope coming back from the server.
type serverMessage struct {
	Kind     string `json:"kind"`
	State    string `json:"state,omitempty"`
	Result   *struct {
		Status       string `json:"status"`
		Message      string `json:"message,omitempty"`
		ErrorMessage string `json:"error_message,omitempty"`
		Suggestion   string `json:"suggestion,omitempty"`
	} `json:"result,omitempty"`
	Playback *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"playback,omitempty"`
}

// Simulator drives a voice session over the websocket the way the mobile
// app would, minus the audio.
type Simulator struct {
	config *SimulatorConfig
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu        sync.Mutex
	lastState string

	wg sync.WaitGroup
}

// NewSimulator creates a new voice session simulator
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	return &Simulator{
		config: config,
		log:    log,
	}
}

// Connect opens the voice session socket
func (s *Simulator) Connect() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	header := http.Header{}
	if s.config.Token != "" {
		header.Set("Authorization", "Bearer "+s.config.Token)
	}

	dialCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.config.ServerURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	s.conn = conn
	s.log.Info("Connected to voice session", zap.String("url", s.config.ServerURL))

	s.wg.Add(1)
	go s.readMessages()

	return nil
}

// Stop closes the session socket
func (s *Simulator) Stop() {
	s.send(clientMessage{Type: "stop"})
	s.cancel()
	if s.conn != nil {
		s.conn.Close(websocket.StatusNormalClosure, "done")
	}
	s.wg.Wait()
}

func (s *Simulator) send(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Say sends one spoken utterance as a text turn
func (s *Simulator) Say(text string) {
	fmt.Printf("you:       %s\n", text)
	if err := s.send(clientMessage{Type: "command", Text: text}); err != nil {
		s.log.Error("Send failed", zap.Error(err))
	}
}

func (s *Simulator) readMessages() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("Invalid server message", zap.Error(err))
			continue
		}
		s.printMessage(msg)
	}
}

func (s *Simulator) printMessage(msg serverMessage) {
	switch msg.Kind {
	case "playback":
		if msg.Playback == nil {
			return
		}
		switch msg.Playback.Type {
		case "speak":
			fmt.Printf("assistant: %s\n", msg.Playback.Text)
		case "fade_out":
			fmt.Println("assistant: [interrupted]")
		}

	case "result":
		if msg.Result == nil {
			return
		}
		s.mu.Lock()
		stateChanged := msg.State != "" && msg.State != s.lastState
		s.lastState = msg.State
		s.mu.Unlock()

		if msg.Result.ErrorMessage != "" {
			fmt.Printf("           [%s] %s\n", msg.Result.Status, msg.Result.ErrorMessage)
		}
		if msg.Result.Suggestion != "" {
			fmt.Printf("           hint: %s\n", msg.Result.Suggestion)
		}
		if stateChanged {
			fmt.Printf("           state -> %s\n", msg.State)
		}
	}
}

// --- Scripted conversations ---

type step struct {
	say string
	msg *clientMessage
}

var scenarios = map[string][]step{
	"expense": {
		{say: "I spent 20 dollars on lunch"},
		{say: "how much did I spend this week"},
	},
	"supplement": {
		{say: "add a coffee expense"},
		{say: "4.50"},
	},
	"duplicate": {
		{say: "I spent 20 dollars on lunch"},
		{say: "I spent 20 dollars on lunch"},
		{say: "yes"},
	},
	"delete": {
		{say: "I spent 12 dollars on coffee"},
		{say: "I spent 30 dollars on gas"},
		{say: "delete the coffee expense"},
		{say: "yes"},
	},
	"multi": {
		{say: "I spent 20 on lunch and 30 on gas, then show my budget"},
		{say: "yes"},
	},
	"recovery": {
		{say: "record asdfghjkl dollars on nothing"},
		{say: "I spent 15 dollars on groceries"},
	},
}

// RunScenario plays one scripted conversation, pacing the turns so the
// responses interleave readably.
func (s *Simulator) RunScenario(name string) error {
	steps, ok := scenarios[name]
	if !ok {
		return fmt.Errorf("unknown scenario %q", name)
	}

	fmt.Printf("--- scenario: %s ---\n", name)
	for _, st := range steps {
		time.Sleep(s.config.StepDelay)
		if st.msg != nil {
			s.send(*st.msg)
			continue
		}
		s.Say(st.say)
	}
	time.Sleep(s.config.StepDelay)
	return nil
}

// ScenarioNames lists the available scripted conversations.
func ScenarioNames() []string {
	return []string{"expense", "supplement", "duplicate", "delete", "multi", "recovery"}
}

// RunInteractive reads utterances from stdin. Lines starting with "/" are
// control messages; everything else is sent as a spoken turn.
func (s *Simulator) RunInteractive() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		if !strings.HasPrefix(line, "/") {
			s.Say(line)
			time.Sleep(s.config.StepDelay)
			fmt.Print("> ")
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "/multi":
			s.send(clientMessage{Type: "multi_command", Text: strings.TrimSpace(strings.TrimPrefix(line, "/multi"))})

		case "/confirm":
			s.send(clientMessage{Type: "confirm_batch"})

		case "/drop":
			s.send(clientMessage{Type: "cancel_batch"})

		case "/remove":
			if len(parts) < 2 {
				fmt.Println("Usage: /remove <index>")
			} else {
				index, _ := strconv.Atoi(parts[1])
				s.send(clientMessage{Type: "cancel_item", Index: index})
			}

		case "/amount":
			if len(parts) < 3 {
				fmt.Println("Usage: /amount <index> <value>")
			} else {
				index, _ := strconv.Atoi(parts[1])
				amount, _ := strconv.ParseFloat(parts[2], 64)
				s.send(clientMessage{Type: "supplement", Index: index, Amount: amount})
			}

		case "/cancel":
			s.send(clientMessage{Type: "cancel"})

		case "/recover":
			s.send(clientMessage{Type: "recover"})

		case "/quit", "/exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
		}

		time.Sleep(s.config.StepDelay)
		fmt.Print("> ")
	}
}
