package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// HelixClient calls Helix endpoints with one user's OAuth token. The token
// source is expected to refresh transparently (see the auth package).
type HelixClient struct {
	TokenSource oauth2.TokenSource
	ClientID    string
	HTTPClient  *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) do(ctx context.Context, method, endpoint string, query map[string]string) (*http.Response, error) {
	tok, err := hc.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain user token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, "https://api.twitch.tv/helix/"+endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return hc.http().Do(req)
}

// SendShoutout posts a shoutout promoting the raider on the destination
// broadcaster's channel. On the wire the destination is the channel issuing
// the shoutout, so it goes out as from_broadcaster_id; the raider is the
// one being shouted out (to_broadcaster_id). The moderator must moderate
// the destination channel; the destination acts as its own moderator.
func (hc *HelixClient) SendShoutout(ctx context.Context, raiderID, destinationID, moderatorID string) error {
	if raiderID == "" || destinationID == "" {
		return fmt.Errorf("missing broadcaster id")
	}
	if moderatorID == "" {
		moderatorID = destinationID
	}
	resp, err := hc.do(ctx, http.MethodPost, "chat/shoutouts", map[string]string{
		"from_broadcaster_id": destinationID,
		"to_broadcaster_id":   raiderID,
		"moderator_id":        moderatorID,
	})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shoutout request failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// HelixUser is the subset of /helix/users this service reads.
type HelixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUser resolves a login to its user row, or the token's own user when
// login is empty.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*HelixUser, error) {
	query := map[string]string{}
	if login != "" {
		query["login"] = login
	}
	resp, err := hc.do(ctx, http.MethodGet, "users", query)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user lookup failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []HelixUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &body.Data[0], nil
}
