package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"liveboard.dev/internal/protocol"
)

// Client implements the board API over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

func New(base string) *Client {
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) ListPosts(ctx context.Context) ([]protocol.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/posts", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var posts []protocol.Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

func (c *Client) CreatePost(ctx context.Context, cr protocol.CreateRequest) (protocol.Post, error) {
	body, err := json.Marshal(cr)
	if err != nil {
		return protocol.Post{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/posts/create", bytes.NewReader(body))
	if err != nil {
		return protocol.Post{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return protocol.Post{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return protocol.Post{}, apiError(resp)
	}
	var post protocol.Post
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return protocol.Post{}, fmt.Errorf("decode post: %w", err)
	}
	return post, nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er protocol.ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error != "" {
		if er.Code != "" {
			return fmt.Errorf("%s: %s (http %d)", er.Code, er.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s (http %d)", er.Error, resp.StatusCode)
	}
	return fmt.Errorf("http %d", resp.StatusCode)
}
