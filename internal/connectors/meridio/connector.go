package meridio

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
const ClassName = "meridio"

const (
	// DefaultDenyToken is denied on every secured document.
	DefaultDenyToken = "DEAD_AUTHORITY"

	maxDocumentBatch = 10
	maxHitsToReturn  = 100
	// seedOverlap rescans the tail of the previous window so late commits
	// with earlier timestamps are not missed.
	seedOverlap = 15 * time.Minute
	// sessionExpired appears in the fault string of an expired session.
	sessionExpired = " 23031#"
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

// WithHTTPClient sets the client used for both web services and downloads.
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

// Connector crawls a Meridio installation.
type Connector struct {
	logger      *zap.Logger
	httpClient  *http.Client
	callTimeout time.Duration
	now         func() time.Time
	newSession  sessionFactory

	params  crawler.ConfigParams
	cfg     *settings
	session Session
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
	c.logger = c.logger.Named("meridio")
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
			Username:   s.userName,
			Password:   s.password,
			Logger:     c.logger,
		})
	}, c.logger)
}

// Connect stores the parameters. No network I/O happens until first use.
func (c *Connector) Connect(params crawler.ConfigParams) error {
	c.params = params.Clone()
	c.cfg = nil
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

func (c *Connector) getSession(ctx context.Context) (Session, error) {
	if c.session != nil {
		return c.session, nil
	}
	cfg, err := c.settings()
	if err != nil {
		return nil, err
	}
	sess, err := c.newSession(*cfg)
	if err != nil {
		return nil, err
	}
	if _, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sess.Login(ctx)
	}); err != nil {
		return nil, c.interruption("login", err)
	}
	c.session = sess
	return sess, nil
}

// Check logs in again and makes one call against each web service.
func (c *Connector) Check(ctx context.Context) (string, error) {
	c.session = nil
	if _, err := c.getSession(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if si, ok := crawler.AsServiceInterruption(err); ok {
			return "Meridio temporarily unavailable: " + si.Message, nil
		}
		return err.Error(), nil
	}
	name, err := withSession(ctx, c, "get static data", func(ctx context.Context, sess Session) (string, error) {
		return sess.SystemName(ctx)
	})
	if err == nil {
		c.logger.Debug("connected", zap.String("system", name))
		_, err = withSession(ctx, c, "get configuration", func(ctx context.Context, sess Session) (struct{}, error) {
			return struct{}{}, sess.CheckRecords(ctx)
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if si, ok := crawler.AsServiceInterruption(err); ok {
			return "Meridio temporarily unavailable: " + si.Message, nil
		}
		return "Connection failed - " + err.Error(), nil
	}
	return "Connection working", nil
}

// Poll is a no-op; sessions are dropped only when the server expires them.
func (c *Connector) Poll(context.Context) error {
	return nil
}

// Disconnect logs out. Logout failures are logged, never returned.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.session != nil {
		sess := c.session
		if _, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, sess.Logout(ctx)
		}); err != nil {
			c.logger.Warn("logging out failed", zap.Error(err))
		}
	}
	c.session = nil
	c.cfg = nil
	return nil
}

// BinNames throttles on both web service hosts.
func (c *Connector) BinNames(string) []string {
	return []string{c.params.Get(ParamDMWSServer), c.params.Get(ParamRMWSServer)}
}

// Activities is empty; the connector records no history.
func (c *Connector) Activities() []string {
	return nil
}

// MaxDocumentRequest bounds the ids searched in one call.
func (c *Connector) MaxDocumentRequest() int {
	return maxDocumentBatch
}

// Model reports that seeding returns only documents modified inside the
// search window.
func (c *Connector) Model() crawler.Model {
	return crawler.ModelAddChange
}

// interruption turns faults and transport failures into a retry window.
func (c *Connector) interruption(what string, err error) error {
	if _, ok := crawler.AsServiceInterruption(err); ok {
		return err
	}
	_, isFault := soap.AsFault(err)
	_, isTransport := soap.AsTransportError(err)
	if !isFault && !isTransport {
		return fmt.Errorf("%s: %w", what, err)
	}
	return crawler.NewServiceInterruption("remote procedure exception: "+what, err, c.now(), 5*time.Minute, 3*time.Hour)
}

func isSessionExpired(err error) bool {
	f, ok := soap.AsFault(err)
	return ok && f.Contains(sessionExpired)
}

// call runs fn through the blocking-call bridge with the call timeout.
func call[T any](ctx context.Context, c *Connector, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	v, err := crawler.Call(callCtx, fn)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = &soap.TransportError{Class: soap.ClassTimeout, Err: err}
	}
	return v, err
}

// withSession runs fn with a live session. An expired session is replaced
// and fn retried once.
func withSession[T any](ctx context.Context, c *Connector, what string, fn func(context.Context, Session) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		sess, err := c.getSession(ctx)
		if err != nil {
			return zero, err
		}
		v, err := call(ctx, c, func(ctx context.Context) (T, error) {
			return fn(ctx, sess)
		})
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == 0 && isSessionExpired(err) {
			c.logger.Debug("session expired, logging in again", zap.String("call", what))
			c.session = nil
			continue
		}
		return zero, c.interruption(what, err)
	}
}
