// Package registryclient implements the Registry Client from
// spec.md §4.2: resolve a (registry, name, tag) to a manifest, and
// build blob URLs.
//
// Authentication follows the Docker distribution bearer-token flow:
// an unauthenticated request gets a 401 with a
// `WWW-Authenticate: Bearer realm="...",service="...",scope="..."`
// challenge; the client exchanges that for a bearer JWT at realm and
// retries with it attached. This mirrors the teacher's auth package
// (ckmine11-registry-x/backend/pkg/auth/handlers.go TokenHandler) but
// from the client side of the same protocol.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/manifeststore"
	"github.com/modelhost/modelhost/pkg/modelref"
)

const manifestAccept = "application/vnd.docker.distribution.manifest.v2+json"

const callTimeout = 300 * time.Second

type Client struct {
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]string // cache key "service|scope" -> bearer token
}

func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: callTimeout},
		tokens:     make(map[string]string),
	}
}

func baseURL(ref modelref.Ref) string {
	scheme := "https"
	if strings.HasPrefix(ref.Registry, "localhost") || strings.HasPrefix(ref.Registry, "127.0.0.1") {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, ref.Registry)
}

// repoPath renders the "namespace/name" path segment used in both the
// manifest and blob URL.
func repoPath(ref modelref.Ref) string {
	return ref.Namespace + "/" + ref.Name
}

// BlobURL builds the URL for fetching a blob by digest, per spec.md
// §4.2.
func BlobURL(ref modelref.Ref, d string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", baseURL(ref), repoPath(ref), d)
}

func manifestURL(ref modelref.Ref) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", baseURL(ref), repoPath(ref), ref.Tag)
}

// FetchManifest resolves ref against its registry and returns the
// parsed manifest. No retry happens here — spec.md §4.2 places retry
// responsibility on the caller (Model Store's pull).
func (c *Client) FetchManifest(ctx context.Context, ref modelref.Ref) (*manifeststore.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("registryclient: build request: %w", err)
	}
	req.Header.Set("Accept", manifestAccept)

	resp, err := c.doAuthenticated(req, "repository:"+repoPath(ref)+":pull")
	if err != nil {
		return nil, apperror.Transport("fetch manifest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.NotFound(fmt.Sprintf("manifest %s not found upstream", ref))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperror.Transport(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body), nil)
	}

	var m manifeststore.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("registryclient: decode manifest: %w", err)
	}
	return &m, nil
}

// doAuthenticated performs req, transparently handling the bearer
// challenge: if a cached token exists for scope it is attached up
// front; on a 401 the WWW-Authenticate challenge is parsed, a token is
// fetched, cached, and the request retried once with it attached.
func (c *Client) doAuthenticated(req *http.Request, scope string) (*http.Response, error) {
	if tok := c.cachedToken(scope); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	resp.Body.Close()
	realm, service, chalScope, ok := parseBearerChallenge(challenge)
	if !ok {
		return nil, fmt.Errorf("registryclient: no bearer challenge in 401 response")
	}
	if chalScope != "" {
		scope = chalScope
	}

	token, err := c.fetchToken(req.Context(), realm, service, scope)
	if err != nil {
		return nil, err
	}
	c.cacheToken(scope, token)

	retry := req.Clone(req.Context())
	retry.Header.Set("Authorization", "Bearer "+token)
	return c.httpClient.Do(retry)
}

func (c *Client) fetchToken(ctx context.Context, realm, service, scope string) (string, error) {
	u, err := url.Parse(realm)
	if err != nil {
		return "", fmt.Errorf("registryclient: bad token realm: %w", err)
	}
	q := u.Query()
	q.Set("service", service)
	if scope != "" {
		q.Set("scope", scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("registryclient: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registryclient: token endpoint returned %d", resp.StatusCode)
	}

	var tr struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("registryclient: decode token response: %w", err)
	}
	tok := tr.Token
	if tok == "" {
		tok = tr.AccessToken
	}
	return tok, nil
}

func (c *Client) cachedToken(scope string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[scope]
	if !ok {
		return ""
	}
	if expired(tok) {
		delete(c.tokens, scope)
		return ""
	}
	return tok
}

func (c *Client) cacheToken(scope, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[scope] = token
}

// expired parses the JWT's exp claim without verifying the signature —
// the registry signed it, we only read it back to decide whether to
// bother reusing it.
func expired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().After(exp.Time)
}

// parseBearerChallenge parses `Bearer realm="...",service="...",scope="..."`.
func parseBearerChallenge(header string) (realm, service, scope string, ok bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "", "", false
	}
	rest := strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(rest, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		val := strings.Trim(kv[1], `"`)
		switch key {
		case "realm":
			realm = val
		case "service":
			service = val
		case "scope":
			scope = val
		}
	}
	return realm, service, scope, realm != ""
}
