// Package guardapi fetches the room's standing guard-member count from the
// platform API once at startup, seeding the running total before any log
// lines are replayed.
package guardapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBase = "https://api.live.bilibili.com"
	// The live API rejects default Go user agents.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

type Client struct {
	base   string
	client *http.Client
}

func New(base string, timeout time.Duration) *Client {
	if base == "" {
		base = defaultBase
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, client: &http.Client{Timeout: timeout}}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type guardTopList struct {
	Info struct {
		Num int `json:"num"`
	} `json:"info"`
}

// FetchInitial returns the current guard count for the room. Every failure
// path degrades to zero: the pipeline starts without a seed rather than not
// starting at all.
func (c *Client) FetchInitial(ctx context.Context, roomID, uid string) int {
	q := url.Values{}
	q.Set("roomid", roomID)
	q.Set("ruid", uid)
	q.Set("page", "1")
	q.Set("page_size", "1")

	var top guardTopList
	if err := c.get(ctx, "/xlive/app-room/v2/guardTab/topList", q, &top); err != nil {
		log.Printf("guardapi: initial count fetch: %v", err)
		return 0
	}
	return top.Info.Num
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("api code %d: %s", env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
