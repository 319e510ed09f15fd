// Package portal is a small client for the ArcGIS sharing REST API and the
// Survey123 feature report service.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	DefaultReportAPIURL = "https://survey123.arcgis.com/api/featureReport"
	defaultPoll         = 5 * time.Second
	tokenMinutes        = 60
)

type Options struct {
	OrgURL       string
	ReportAPIURL string

	Username string
	Password string

	ClientID     string
	ClientSecret string

	// Owner of the report items. Defaults to the authenticated user.
	Owner string

	RequestTimeout  time.Duration
	GenerateTimeout time.Duration
	PollInterval    time.Duration

	HTTPClient *http.Client
}

type Client struct {
	opts Options
	http *http.Client
}

func New(opts Options) *Client {
	opts.OrgURL = strings.TrimRight(opts.OrgURL, "/")
	if opts.ReportAPIURL == "" {
		opts.ReportAPIURL = DefaultReportAPIURL
	}
	opts.ReportAPIURL = strings.TrimRight(opts.ReportAPIURL, "/")
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{opts: opts, http: hc}
}

// Session is an authenticated portal identity.
type Session struct {
	Token    string
	Expires  time.Time
	Username string
	Owner    string
}

func (c *Client) rest(path string) string {
	return c.opts.OrgURL + "/sharing/rest/" + strings.TrimLeft(path, "/")
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("f", "json")
	return c.do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, out)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("f", "json")
	return c.do(ctx, http.MethodPost, endpoint, form, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	body, err := c.fetch(ctx, method, endpoint, form)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// fetch performs one request bounded by RequestTimeout and returns the raw body.
func (c *Client) fetch(ctx context.Context, method, endpoint string, form url.Values) ([]byte, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	var rd io.Reader
	if form != nil {
		rd = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", scrub(err))
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(endpoint), scrub(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiErr := envelope(data); apiErr != nil {
			return nil, apiErr
		}
		return nil, &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return data, nil
}

func decode(data []byte, out any) error {
	if apiErr := envelope(data); apiErr != nil {
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// envelope returns the error carried by an otherwise successful response.
func envelope(data []byte) *APIError {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	return env.Error
}

// redact strips the query string so tokens never reach logs.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// scrub redacts the URL a transport error carries; url.Error prints it whole.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redact(ue.URL)
	}
	return err
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
