package protocol

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownEvent wraps the offending type string.
type ErrUnknownEvent struct{ Kind string }

func (e ErrUnknownEvent) Error() string { return fmt.Sprintf("unknown event type %q", e.Kind) }

// DecodeClient parses one inbound frame into its typed event.
func DecodeClient(data []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	ev, err := emptyClientEvent(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ev); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
	}
	return deref(ev), nil
}

func emptyClientEvent(kind string) (any, error) {
	switch kind {
	case "join-room":
		return &JoinRoom{}, nil
	case "leave-room":
		return &LeaveRoom{}, nil
	case "code-change":
		return &CodeChange{}, nil
	case "cursor-move":
		return &CursorMove{}, nil
	case "selection-change":
		return &SelectionChange{}, nil
	case "language-change":
		return &LanguageChange{}, nil
	case "chat-message":
		return &ChatMessage{}, nil
	case "battle-ready":
		return &BattleReady{}, nil
	case "start-battle":
		return &StartBattle{}, nil
	case "battle-submit-code":
		return &BattleSubmitCode{}, nil
	case "end-battle":
		return &EndBattle{}, nil
	case "execute-code":
		return &ExecuteCode{}, nil
	case "ping":
		return &Ping{}, nil
	case "start-following":
		return &StartFollowing{}, nil
	case "stop-following":
		return &StopFollowing{}, nil
	case "viewport-sync":
		return &ViewportSync{}, nil
	default:
		return nil, ErrUnknownEvent{Kind: kind}
	}
}

func deref(ev any) ClientEvent {
	switch e := ev.(type) {
	case *JoinRoom:
		return *e
	case *LeaveRoom:
		return *e
	case *CodeChange:
		return *e
	case *CursorMove:
		return *e
	case *SelectionChange:
		return *e
	case *LanguageChange:
		return *e
	case *ChatMessage:
		return *e
	case *BattleReady:
		return *e
	case *StartBattle:
		return *e
	case *BattleSubmitCode:
		return *e
	case *EndBattle:
		return *e
	case *ExecuteCode:
		return *e
	case *Ping:
		return *e
	case *StartFollowing:
		return *e
	case *StopFollowing:
		return *e
	case *ViewportSync:
		return *e
	default:
		return nil
	}
}

// KindOf reports the envelope discriminator of a decoded client event.
// Because it works from the closed event set rather than raw frame bytes,
// callers can use it as a metric label without risking unbounded values.
func KindOf(ev ClientEvent) string {
	switch ev.(type) {
	case JoinRoom:
		return "join-room"
	case LeaveRoom:
		return "leave-room"
	case CodeChange:
		return "code-change"
	case CursorMove:
		return "cursor-move"
	case SelectionChange:
		return "selection-change"
	case LanguageChange:
		return "language-change"
	case ChatMessage:
		return "chat-message"
	case BattleReady:
		return "battle-ready"
	case StartBattle:
		return "start-battle"
	case BattleSubmitCode:
		return "battle-submit-code"
	case EndBattle:
		return "end-battle"
	case ExecuteCode:
		return "execute-code"
	case Ping:
		return "ping"
	case StartFollowing:
		return "start-following"
	case StopFollowing:
		return "stop-following"
	case ViewportSync:
		return "viewport-sync"
	default:
		return "unknown"
	}
}

// Encode wraps an outbound event in its envelope.
func Encode(ev ServerEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Payload: payload})
}
