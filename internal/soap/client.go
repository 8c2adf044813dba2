package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/metrics"
	"github.com/JakeFAU/lcf-connectors/internal/telemetry"
)

const (
	envelopeNS       = "http://schemas.xmlsoap.org/soap/envelope/"
	defaultMaxTries  = 3
	defaultTimeout   = 2 * time.Minute
	maxErrorBodySize = 4096
)

// Config configures a Client.
type Config struct {
	Endpoint   string
	HTTPClient *http.Client
	// MaxTries bounds attempts for retryable transport failures.
	MaxTries uint
	// InitialBackoff is the first retry delay; later delays grow
	// exponentially.
	InitialBackoff time.Duration
	Username       string
	Password       string
	Logger         *zap.Logger
}

// Client posts SOAP envelopes to a single endpoint.
type Client struct {
	endpoint       string
	http           *http.Client
	maxTries       uint
	initialBackoff time.Duration
	username       string
	password       string
	logger         *zap.Logger
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("soap endpoint is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Client{
		endpoint:       cfg.Endpoint,
		http:           cfg.HTTPClient,
		maxTries:       cfg.MaxTries,
		initialBackoff: cfg.InitialBackoff,
		username:       cfg.Username,
		password:       cfg.Password,
		logger:         cfg.Logger,
	}, nil
}

// Endpoint returns the service URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	NS      string   `xml:"xmlns:soap,attr"`
	Header  *header  `xml:"soap:Header,omitempty"`
	Body    body     `xml:"soap:Body"`
}

type header struct {
	Items []any
}

type body struct {
	Content any
}

// Marshal renders body and optional header blocks as a SOAP envelope.
func Marshal(content any, headers ...any) ([]byte, error) {
	env := envelope{NS: envelopeNS, Body: body{Content: content}}
	if len(headers) > 0 {
		env.Header = &header{Items: headers}
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal soap envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Call posts content under action and returns the first element inside the
// response Body. A soap:Fault is returned as *Fault.
func (c *Client) Call(ctx context.Context, action string, content any, headers ...any) (*xmlquery.Node, error) {
	payload, err := Marshal(content, headers...)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.Tracer().Start(ctx, "soap "+action)
	defer span.End()
	span.SetAttributes(attribute.String("soap.action", action), attribute.String("soap.endpoint", c.endpoint))

	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	node, err := backoff.Retry(ctx, func() (*xmlquery.Node, error) {
		n, err := c.roundTrip(ctx, action, payload)
		if err == nil {
			return n, nil
		}
		if te, ok := AsTransportError(err); ok && te.Retryable() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("soap call failed, retrying",
				zap.String("action", action),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
		if _, ok := AsFault(err); ok {
			outcome = "fault"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	metrics.ObserveSOAPCall(action, outcome, time.Since(start))
	return node, err
}

func (c *Client) roundTrip(ctx context.Context, action string, payload []byte) (*xmlquery.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build soap request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Class: Classify(err), Action: action, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	doc, parseErr := xmlquery.Parse(resp.Body)
	if parseErr == nil {
		if fault := findFault(doc); fault != nil {
			return nil, fault
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Class:  ClassHTTP,
			Action: action,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if parseErr != nil {
		return nil, &TransportError{Class: ClassOther, Action: action, Err: fmt.Errorf("parse response: %w", parseErr)}
	}
	bodyNode := xmlquery.FindOne(doc, "//*[local-name()='Envelope']/*[local-name()='Body']")
	if bodyNode == nil {
		return nil, &TransportError{Class: ClassOther, Action: action, Err: errors.New("response has no soap body")}
	}
	for n := bodyNode.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n, nil
		}
	}
	return bodyNode, nil
}

func findFault(doc *xmlquery.Node) *Fault {
	f := xmlquery.FindOne(doc, "//*[local-name()='Body']/*[local-name()='Fault']")
	if f == nil {
		return nil
	}
	fault := &Fault{
		Code:   Text(f, "faultcode"),
		String: Text(f, "faultstring"),
	}
	if d := Find(f, "detail"); d != nil {
		fault.Detail = d.OutputXML(false)
	}
	return fault
}

// Get fetches a URL with the client's credentials, for content that is
// served outside the SOAP envelope. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build content request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Class: Classify(err), Action: "GET", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
		return nil, 0, &TransportError{
			Class:  ClassHTTP,
			Action: "GET",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}
	return resp.Body, resp.ContentLength, nil
}
