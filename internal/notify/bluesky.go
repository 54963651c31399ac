package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/httputil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/timeutil"
)

const DefaultBlueskyHost = "https://bsky.social"

// Bluesky posts messages via the atproto XRPC API. A fresh session is
// created per delivery; app passwords make sessions cheap and the
// tracker posts at most a handful of times per day.
type Bluesky struct {
	HTTP        httputil.HTTPClient
	Clock       timeutil.Clock
	Host        string
	Handle      string
	AppPassword string

	// TestMode prefixes every post, for dry runs against a real account.
	TestMode bool
}

func NewBluesky(http httputil.HTTPClient, clock timeutil.Clock, handle, appPassword string) *Bluesky {
	return &Bluesky{
		HTTP:        http,
		Clock:       clock,
		Host:        DefaultBlueskyHost,
		Handle:      handle,
		AppPassword: appPassword,
	}
}

func (b *Bluesky) Name() string { return "bluesky" }

// Deliver posts each chunk of the message in order. Configuration
// without credentials disables the sink silently.
func (b *Bluesky) Deliver(ctx context.Context, m Message) error {
	if m.EmailOnly {
		return nil
	}
	if b.Handle == "" || b.AppPassword == "" {
		monitoring.Logf("bluesky: credentials not set, skipping post")
		return nil
	}

	sess, err := b.createSession(ctx)
	if err != nil {
		return fmt.Errorf("bluesky session failed: %w", err)
	}

	for i, text := range m.Posts {
		if b.TestMode {
			text = "[TEST]\n" + text
		}
		if err := b.createPost(ctx, sess, text); err != nil {
			return fmt.Errorf("bluesky post %d/%d failed: %w", i+1, len(m.Posts), err)
		}
	}
	return nil
}

type blueskySession struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
}

func (b *Bluesky) createSession(ctx context.Context) (blueskySession, error) {
	var sess blueskySession
	err := b.xrpc(ctx, "com.atproto.server.createSession", "", map[string]string{
		"identifier": b.Handle,
		"password":   b.AppPassword,
	}, &sess)
	return sess, err
}

func (b *Bluesky) createPost(ctx context.Context, sess blueskySession, text string) error {
	payload := map[string]any{
		"repo":       sess.Did,
		"collection": "app.bsky.feed.post",
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": b.Clock.Now().UTC().Format(time.RFC3339),
		},
	}
	return b.xrpc(ctx, "com.atproto.repo.createRecord", sess.AccessJwt, payload, nil)
}

func (b *Bluesky) xrpc(ctx context.Context, method, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/xrpc/%s", b.Host, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
	}
	return nil
}
