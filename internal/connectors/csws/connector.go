package csws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/soap"
)

// ClassName is the registry name of the connector.
const ClassName = "csws"

// Activity types recorded in the connection history.
const (
	ActivitySeed  = "find documents"
	ActivityFetch = "fetch document"
)

const (
	enterpriseWorkspace = "EnterpriseWS"
	categoryWorkspace   = "CategoriesWS"

	// idleExpiration drops a session that has not been used for this long.
	idleExpiration = 300000 * time.Millisecond
	// DefaultDenyToken is added to every secured document.
	DefaultDenyToken = "DEAD_AUTHORITY"
	maxDocumentBatch = 6
)

type sessionFactory func(s settings) (Session, error)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for every SOAP service.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.httpClient = client
	}
}

// WithCallTimeout bounds each repository call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.callTimeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		if now != nil {
			c.now = now
		}
	}
}

func withSessionFactory(f sessionFactory) Option {
	return func(c *Connector) {
		c.newSession = f
	}
}

// Connector crawls a Content Server instance.
type Connector struct {
	logger      *zap.Logger
	httpClient  *http.Client
	callTimeout time.Duration
	now         func() time.Time
	newSession  sessionFactory

	params    crawler.ConfigParams
	cfg       *settings
	session   Session
	connected bool
	expiresAt time.Time

	enterpriseID int64
	categoryID   int64
}

var _ crawler.Connector = (*Connector)(nil)

// New builds an unconnected Connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("csws")
	if c.newSession == nil {
		c.newSession = c.soapSessionFactory
	}
	return c
}

// Register adds the connector to reg.
func Register(reg *crawler.Registry, opts ...Option) error {
	return reg.Register(ClassName, func() crawler.Connector {
		return New(opts...)
	})
}

func (c *Connector) soapSessionFactory(s settings) (Session, error) {
	return newSOAPSession(s, func(endpoint string) (*soap.Client, error) {
		return soap.New(soap.Config{
			Endpoint:   endpoint,
			HTTPClient: c.httpClient,
			Logger:     c.logger,
		})
	}, c.logger)
}

// Connect stores the parameters. No network I/O happens until first use.
func (c *Connector) Connect(params crawler.ConfigParams) error {
	c.params = params.Clone()
	c.cfg = nil
	c.connected = false
	c.session = nil
	return nil
}

func (c *Connector) settings() (*settings, error) {
	if c.cfg == nil {
		s, err := parseSettings(c.params)
		if err != nil {
			return nil, err
		}
		c.cfg = &s
	}
	return c.cfg, nil
}

// getSession returns a live session, building one when needed, and pushes
// back the idle expiration.
func (c *Connector) getSession(ctx context.Context) (Session, error) {
	cfg, err := c.settings()
	if err != nil {
		return nil, err
	}
	if !c.connected {
		sess, err := c.newSession(*cfg)
		if err != nil {
			return nil, err
		}
		if err := invokeErr(ctx, c, "authenticate", sess.Authenticate); err != nil {
			return nil, err
		}
		ids := make(map[string]int64, 2)
		for _, ws := range []string{enterpriseWorkspace, categoryWorkspace} {
			node, err := invoke(ctx, c, "get root workspace "+ws, func(ctx context.Context) (*Node, error) {
				return sess.RootWorkspace(ctx, ws)
			})
			if err != nil {
				return nil, err
			}
			if node == nil {
				return nil, fmt.Errorf("could not locate workspace %s: %w", ws, crawler.ErrBadConfiguration)
			}
			ids[ws] = node.ID
		}
		c.enterpriseID = ids[enterpriseWorkspace]
		c.categoryID = ids[categoryWorkspace]
		c.session = sess
		c.connected = true
	}
	c.expiresAt = c.now().Add(idleExpiration)
	return c.session, nil
}

// Check rebuilds the session and reports whether the server is reachable.
func (c *Connector) Check(ctx context.Context) (string, error) {
	c.connected = false
	c.session = nil
	if _, err := c.getSession(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if si, ok := crawler.AsServiceInterruption(err); ok {
			return "Transient error: " + si.Message, nil
		}
		return "Error: " + err.Error(), nil
	}
	return "Connection working", nil
}

// Poll drops the session once it has been idle past its expiration.
func (c *Connector) Poll(context.Context) error {
	if !c.connected {
		return nil
	}
	if !c.now().Before(c.expiresAt) {
		c.logger.Debug("dropping idle session")
		c.connected = false
		c.session = nil
		c.expiresAt = time.Time{}
	}
	return nil
}

// Disconnect forgets the session and the parsed parameters.
func (c *Connector) Disconnect(context.Context) error {
	c.connected = false
	c.session = nil
	c.cfg = nil
	c.expiresAt = time.Time{}
	c.enterpriseID = 0
	c.categoryID = 0
	return nil
}

// BinNames throttles every document on the server host.
func (c *Connector) BinNames(string) []string {
	return []string{c.params.Get(ParamServerName)}
}

// Activities lists the history activity types.
func (c *Connector) Activities() []string {
	return []string{ActivitySeed, ActivityFetch}
}

// MaxDocumentRequest is small because the services do not batch; grouping
// still saves category lookups.
func (c *Connector) MaxDocumentRequest() int {
	return maxDocumentBatch
}

// interruption maps transport failures onto retry windows.
func (c *Connector) interruption(what string, err error) error {
	te, ok := soap.AsTransportError(err)
	if !ok {
		return fmt.Errorf("%s: %w", what, err)
	}
	now := c.now()
	if te.Class == soap.ClassTLS {
		si := crawler.NewServiceInterruption(what+": tls handshake failed", err, now, time.Minute, 5*time.Minute)
		si.AbortOnFail = true
		return si
	}
	return crawler.NewServiceInterruption(what+": "+string(te.Class), err, now, 5*time.Minute, 6*time.Hour)
}

// invoke runs fn through the blocking-call bridge with the call timeout.
func invoke[T any](ctx context.Context, c *Connector, what string, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	v, err := crawler.Call(callCtx, fn)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return v, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = &soap.TransportError{Class: soap.ClassTimeout, Action: what, Err: err}
	}
	return v, c.interruption(what, err)
}

func invokeErr(ctx context.Context, c *Connector, what string, fn func(context.Context) error) error {
	_, err := invoke(ctx, c, what, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
