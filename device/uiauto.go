package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Device-side automation agent endpoint. The agent listens on the device's
// loopback; local and network devices reach it through a port forward, http
// identities address it directly.
const uiAgentRemote = "tcp:7912"

// ATXDialer reaches the on-device automation agent over HTTP.
type ATXDialer struct {
	// Client used for agent requests. http.DefaultClient when nil.
	Client *http.Client
}

func (d *ATXDialer) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// Dial sets up a forward to the agent (except for http identities, which name
// it directly), then verifies the agent answers.
func (d *ATXDialer) Dial(ctx context.Context, id Identity, fwd Forwarder) (UIClient, error) {
	var base string
	if id.Kind == KindHTTP {
		base = strings.TrimRight(id.Serial, "/")
	} else {
		port, err := fwd.Forward(ctx, uiAgentRemote)
		if err != nil {
			return nil, fmt.Errorf("forward to ui agent: %w", err)
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	c := &atxClient{base: base, hc: d.httpClient()}
	info, err := c.get(ctx, "/info")
	if err != nil {
		return nil, fmt.Errorf("ui agent unreachable at %s: %w", base, err)
	}
	log.Info().
		Str("agent", base).
		Str("version", gjson.Get(info, "version").String()).
		Msg("UI agent answered")
	return c, nil
}

// atxClient talks to one agent instance. Responses are JSON envelopes; fields
// are picked out with gjson rather than per-endpoint structs.
type atxClient struct {
	base string
	hc   *http.Client
}

func (c *atxClient) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return "", err
	}
	return c.do(req)
}

func (c *atxClient) post(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *atxClient) do(req *http.Request) (string, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ui agent %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (c *atxClient) DumpHierarchy(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/dump/hierarchy")
	if err != nil {
		return "", err
	}
	if result := gjson.Get(body, "result"); result.Exists() {
		return result.String(), nil
	}
	// older agents return the xml directly
	return body, nil
}

func (c *atxClient) AppStart(ctx context.Context, pkg string) error {
	_, err := c.post(ctx, "/session/"+pkg, url.Values{"flags": {"-S"}})
	return err
}

func (c *atxClient) AppStop(ctx context.Context, pkg string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/session/"+pkg, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *atxClient) AppCurrent(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/info/app/current")
	if err != nil {
		return "", err
	}
	pkg := gjson.Get(body, "package").String()
	if pkg == "" {
		return "", fmt.Errorf("ui agent returned no current package")
	}
	return pkg, nil
}

func (c *atxClient) Click(ctx context.Context, x, y int) error {
	_, err := c.post(ctx, "/click", url.Values{
		"x": {strconv.Itoa(x)},
		"y": {strconv.Itoa(y)},
	})
	return err
}

// Close is a no-op; the agent keeps running on the device and the forward is
// torn down by the session's forward table.
func (c *atxClient) Close() error {
	return nil
}

// NewATXDialer returns a dialer with a request timeout suited to hierarchy
// dumps, which can take a second or two on loaded emulators.
func NewATXDialer() *ATXDialer {
	return &ATXDialer{Client: &http.Client{Timeout: 30 * time.Second}}
}
