package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zulandar/opal/internal/models"
)

// ListConversations returns conversation summaries, newest first.
func (c *Client) ListConversations(ctx context.Context, skip, limit int) ([]models.ConversationSummary, error) {
	q := url.Values{}
	q.Set("skip", fmt.Sprint(skip))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out []models.ConversationSummary
	if err := c.getJSON(ctx, "/conversations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches a persisted conversation with messages, plan and sources.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.ConversationDetail, error) {
	var out models.ConversationDetail
	if err := c.getJSON(ctx, "/conversations/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameConversation sets a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*models.ConversationDetail, error) {
	var out models.ConversationDetail
	body := models.ConversationUpdate{Title: &title}
	if err := c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a persisted conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) (*models.DeleteResponse, error) {
	var out models.DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
