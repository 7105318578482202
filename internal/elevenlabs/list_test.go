package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(zap.NewNop(), "test-key")
	client.APIURL = server.URL
	return client, server
}

func TestListConversationsFollowsCursor(t *testing.T) {
	var requests []string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)

		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}

		response := map[string]interface{}{
			"conversations": []map[string]interface{}{
				{"conversation_id": "conv_1", "created_at": 1700000000},
			},
			"has_more": true,
			"cursor":   "next-page",
		}
		if r.URL.Query().Get("cursor") == "next-page" {
			response = map[string]interface{}{
				"conversations": []map[string]interface{}{
					{"conversation_id": "conv_2", "created_at": 1700000100},
				},
				"has_more": false,
			}
		}

		json.NewEncoder(w).Encode(response)
	})

	conversations, err := client.ListConversations(context.Background(), &ListParams{AgentID: "agent_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if conversations.Len() != 2 {
		t.Fatalf("expected 2 conversations across pages, got %d", conversations.Len())
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}

	ids := conversations.IDs()
	if ids[0] != "conv_1" || ids[1] != "conv_2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestListConversationsQuery(t *testing.T) {
	after := time.Unix(1700000000, 0).UTC()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agent_id") != "agent_1" {
			t.Errorf("expected agent_id, got %q", q.Get("agent_id"))
		}
		if q.Get("after") != "1700000000" {
			t.Errorf("expected unix after param, got %q", q.Get("after"))
		}
		if q.Get("limit") != "100" {
			t.Errorf("expected default page limit, got %q", q.Get("limit"))
		}

		json.NewEncoder(w).Encode(map[string]interface{}{"conversations": []map[string]interface{}{}})
	})

	_, err := client.ListConversations(context.Background(), &ListParams{AgentID: "agent_1", After: after})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListConversationsSkipsUndecodableItems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"conversations": []map[string]interface{}{
				{"created_at": 1700000000},
				{"conversation_id": "conv_ok", "created_at": 1700000100},
			},
		})
	})

	conversations, err := client.ListConversations(context.Background(), &ListParams{AgentID: "agent_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conversations.Len() != 1 {
		t.Fatalf("expected the item without an id to be skipped, got %d items", conversations.Len())
	}
}

func TestListConversationsBadStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	})

	_, err := client.ListConversations(context.Background(), &ListParams{AgentID: "agent_1"})
	if err == nil {
		t.Fatalf("expected an error on 429")
	}
}

func TestGetConversationDecodesTranscript(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv_1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"conversationId": "conv_1",
			"agentId":        "agent_1",
			"status":         "done",
			"createdAt":      "2026-08-01T10:00:00Z",
			"callDurationSecs": 420,
			"transcript": []map[string]interface{}{
				{"role": "agent", "message": "What is your name?"},
				{"role": "user", "message": "I'm Dana"},
			},
		})
	})

	conv, err := client.GetConversation(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if conv.ConversationID != "conv_1" || conv.AgentID != "agent_1" {
		t.Fatalf("camelCase keys not normalized: %+v", conv)
	}
	if conv.DurationSecs != 420 {
		t.Fatalf("expected duration 420, got %d", conv.DurationSecs)
	}
	if !conv.CreatedAt.Equal(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_at: %v", conv.CreatedAt)
	}
	if len(conv.Transcript) != 2 || conv.Transcript[1].Message != "I'm Dana" {
		t.Fatalf("unexpected transcript: %+v", conv.Transcript)
	}

	turns := conv.CandidateTurns()
	if len(turns) != 1 || turns[0] != "I'm Dana" {
		t.Fatalf("unexpected candidate turns: %v", turns)
	}
}
