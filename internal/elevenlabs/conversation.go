package elevenlabs

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

const (
	// Transcript roles as reported by the provider.
	RoleAgent = "agent"
	RoleUser  = "user"
)

type Conversations struct {
	Items []*Conversation
}

// Conversation is one completed interview session. List responses carry
// everything except the transcript; GetConversation fills it in.
type Conversation struct {
	ConversationID string
	AgentID        string
	Status         string
	CreatedAt      time.Time
	EndedAt        time.Time
	DurationSecs   int
	Transcript     []TranscriptTurn
	Metadata       map[string]interface{}
	Analysis       map[string]interface{}
}

type TranscriptTurn struct {
	Role           string  `mapstructure:"role"`
	Message        string  `mapstructure:"message"`
	TimeInCallSecs float64 `mapstructure:"time_in_call_secs"`
}

// conversationPayload is the wire shape after key normalization.
type conversationPayload struct {
	ConversationID   string                 `mapstructure:"conversation_id"`
	AgentID          string                 `mapstructure:"agent_id"`
	Status           string                 `mapstructure:"status"`
	CreatedAt        interface{}            `mapstructure:"created_at"`
	EndedAt          interface{}            `mapstructure:"ended_at"`
	CallDurationSecs int                    `mapstructure:"call_duration_secs"`
	Transcript       []TranscriptTurn       `mapstructure:"transcript"`
	Metadata         map[string]interface{} `mapstructure:"metadata"`
	Analysis         map[string]interface{} `mapstructure:"analysis"`
}

// conversationFromPayload decodes one raw conversation object. The provider
// has been observed emitting both snake_case and camelCase spellings, so all
// keys are folded to snake_case once, here, before any field is read.
func conversationFromPayload(raw map[string]interface{}) (*Conversation, error) {
	normalized := NormalizeKeys(raw)

	var payload conversationPayload
	cfg := &mapstructure.DecoderConfig{
		Result:           &payload,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}

	if payload.ConversationID == "" {
		return nil, fmt.Errorf("conversation payload has no conversation_id")
	}

	return &Conversation{
		ConversationID: payload.ConversationID,
		AgentID:        payload.AgentID,
		Status:         payload.Status,
		CreatedAt:      parseTimestamp(payload.CreatedAt),
		EndedAt:        parseTimestamp(payload.EndedAt),
		DurationSecs:   payload.CallDurationSecs,
		Transcript:     payload.Transcript,
		Metadata:       payload.Metadata,
		Analysis:       payload.Analysis,
	}, nil
}

// NormalizeKeys recursively folds camelCase map keys to snake_case. When both
// spellings are present the snake_case value wins.
func NormalizeKeys(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		snake := toSnakeCase(key)
		if snake != key {
			if _, exists := m[snake]; exists {
				continue
			}
		}
		out[snake] = normalizeValue(value)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return NormalizeKeys(typed)
	case []interface{}:
		for i, item := range typed {
			typed[i] = normalizeValue(item)
		}
		return typed
	default:
		return v
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseTimestamp accepts the timestamp shapes the provider uses: unix
// seconds (number) and RFC3339 strings. Anything else yields the zero time.
func parseTimestamp(v interface{}) time.Time {
	switch typed := v.(type) {
	case float64:
		return time.Unix(int64(typed), 0).UTC()
	case int64:
		return time.Unix(typed, 0).UTC()
	case int:
		return time.Unix(int64(typed), 0).UTC()
	case string:
		if typed == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339, typed); err == nil {
			return t.UTC()
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

// CandidateTurns returns the utterances attributed to the interviewee,
// skipping the interviewing agent's lines.
func (c *Conversation) CandidateTurns() []string {
	var turns []string
	for _, turn := range c.Transcript {
		if turn.Role != RoleAgent && strings.TrimSpace(turn.Message) != "" {
			turns = append(turns, turn.Message)
		}
	}
	return turns
}

// TranscriptText renders the full transcript as speaker-tagged lines.
func (c *Conversation) TranscriptText() string {
	var b strings.Builder
	for _, turn := range c.Transcript {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Conversations) Len() int {
	return len(c.Items)
}

// SortByCreatedAt orders conversations oldest first so the tracking cursor
// advances monotonically during a batch.
func (c *Conversations) SortByCreatedAt() {
	sort.SliceStable(c.Items, func(i, j int) bool {
		return c.Items[i].CreatedAt.Before(c.Items[j].CreatedAt)
	})
}

func (c *Conversations) IDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, conv := range c.Items {
		ids = append(ids, conv.ConversationID)
	}
	return ids
}
