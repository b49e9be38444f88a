package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	flyAPISocket = "/.fly/api"
	stsAudience  = "sts.amazonaws.com"

	maxTokenBytes = 64 << 10
)

// flyTokenRetriever implements stscreds.IdentityTokenRetriever with the
// Fly.io machine API, which mints OIDC tokens over a Unix socket.
type flyTokenRetriever struct {
	client   *http.Client
	endpoint string
	audience string
}

func newFlyTokenRetriever(socketPath, audience string) *flyTokenRetriever {
	return &flyTokenRetriever{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 5 * time.Second,
		},
		endpoint: "http://localhost/v1/tokens/oidc",
		audience: audience,
	}
}

func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	body, err := json.Marshal(struct {
		Audience string `json:"aud"`
	}{f.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request oidc token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return nil, fmt.Errorf("read oidc token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc token request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	token := bytes.TrimSpace(data)
	if len(token) == 0 {
		return nil, errors.New("oidc token request returned an empty token")
	}
	return token, nil
}
