package elevenlabs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	listPath  = "/conversations"
	audioPath = "/conversations/%s/audio"
)

// ListParams filters the conversations list endpoint.
type ListParams struct {
	AgentID string
	After   time.Time
	Before  time.Time
	Limit   int
	Cursor  string
	// MaxPages bounds cursor-following; 0 means follow to the end.
	MaxPages int
}

type listResponse struct {
	Conversations []map[string]interface{} `json:"conversations"`
	HasMore       bool                     `json:"has_more"`
	Cursor        string                   `json:"cursor"`
}

// ListConversations fetches conversation summaries matching params,
// following the cursor across pages. Items that fail to decode are skipped
// with a warning rather than failing the whole listing.
func (c *Client) ListConversations(ctx context.Context, params *ListParams) (*Conversations, error) {
	result := &Conversations{}

	cursor := params.Cursor
	for page := 0; ; page++ {
		if params.MaxPages > 0 && page >= params.MaxPages {
			break
		}

		var response listResponse
		if err := c.getJSON(ctx, listPath, buildListQuery(params, cursor), &response); err != nil {
			return nil, err
		}

		for _, raw := range response.Conversations {
			conv, err := conversationFromPayload(raw)
			if err != nil {
				c.logger.Warn("skipping undecodable conversation item", zap.Error(err))
				continue
			}
			result.Items = append(result.Items, conv)
		}

		if !response.HasMore || response.Cursor == "" {
			break
		}

		c.logger.Debug("additional request needed",
			zap.String("reason", "list response has more pages"),
			zap.String("cursor", response.Cursor),
		)
		cursor = response.Cursor
	}

	return result, nil
}

// GetConversation fetches the full conversation including its transcript.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var raw map[string]interface{}
	if err := c.getJSON(ctx, listPath+"/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}

	return conversationFromPayload(raw)
}

// GetAudio fetches the recorded call audio for a conversation.
func (c *Client) GetAudio(ctx context.Context, id string) ([]byte, error) {
	return c.getRaw(ctx, fmt.Sprintf(audioPath, url.PathEscape(id)))
}

func buildListQuery(params *ListParams, cursor string) url.Values {
	q := url.Values{}
	if params.AgentID != "" {
		q.Set("agent_id", params.AgentID)
	}

	limit := params.Limit
	if limit <= 0 || limit > pageLimit {
		limit = pageLimit
	}
	q.Set("limit", strconv.Itoa(limit))

	if !params.After.IsZero() {
		q.Set("after", strconv.FormatInt(params.After.Unix(), 10))
	}
	if !params.Before.IsZero() {
		q.Set("before", strconv.FormatInt(params.Before.Unix(), 10))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	return q
}
