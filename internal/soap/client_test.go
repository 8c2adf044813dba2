package soap

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type getNode struct {
	XMLName xml.Name `xml:"urn:test GetNode"`
	ID      int64    `xml:"ID"`
}

type authHeader struct {
	XMLName xml.Name `xml:"urn:test OTAuthentication"`
	Token   string   `xml:"AuthenticationToken"`
}

const okResponse = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <GetNodeResponse xmlns="urn:test">
      <GetNodeResult>
        <ID>42</ID>
        <Name> Report.docx </Name>
        <Parent xsi:nil="true" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"/>
      </GetNodeResult>
    </GetNodeResponse>
  </soap:Body>
</soap:Envelope>`

const faultResponse = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>Document not found</faultstring>
      <detail><code>23031</code></detail>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: url, MaxTries: 3, InitialBackoff: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.EqualError(t, err, "soap endpoint is required")
}

func TestMarshalEnvelope(t *testing.T) {
	t.Parallel()
	out, err := Marshal(getNode{ID: 7}, authHeader{Token: "tok"})
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">`)
	assert.Contains(t, s, `<soap:Header><OTAuthentication xmlns="urn:test"><AuthenticationToken>tok</AuthenticationToken></OTAuthentication></soap:Header>`)
	assert.Contains(t, s, `<soap:Body><GetNode xmlns="urn:test"><ID>7</ID></GetNode></soap:Body>`)

	out, err = Marshal(getNode{ID: 7})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "soap:Header")
}

func TestCallReturnsBodyElement(t *testing.T) {
	t.Parallel()
	var gotAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<ID>42</ID>")
		_, _ = io.WriteString(w, okResponse)
	}))
	t.Cleanup(srv.Close)

	node, err := newClient(t, srv.URL).Call(context.Background(), "urn:test/GetNode", getNode{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, `"urn:test/GetNode"`, gotAction)
	assert.Equal(t, "GetNodeResponse", node.Data)

	result := Child(node, "GetNodeResult")
	require.NotNil(t, result)
	assert.Equal(t, "Report.docx", ChildText(result, "Name"))
	id, ok := ChildInt(result, "ID")
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)
	_, ok = ChildInt(result, "Missing")
	assert.False(t, ok)
	assert.True(t, IsNil(Child(result, "Parent")))
	assert.True(t, IsNil(Child(result, "Missing")))
	assert.False(t, IsNil(result))
}

func TestCallFaultIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, faultResponse)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL).Call(context.Background(), "GetNode", getNode{ID: 1})
	require.Error(t, err)
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, "soap:Server", fault.Code)
	assert.Equal(t, "Document not found", fault.String)
	assert.True(t, fault.Contains("23031"))
	assert.EqualError(t, err, "soap fault soap:Server: Document not found")
	assert.EqualValues(t, 1, calls.Load())
}

func TestCallRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, okResponse)
	}))
	t.Cleanup(srv.Close)

	node, err := newClient(t, srv.URL).Call(context.Background(), "GetNode", getNode{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "GetNodeResponse", node.Data)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCallGivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL).Call(context.Background(), "GetNode", getNode{ID: 1})
	require.Error(t, err)
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, ClassHTTP, te.Class)
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv.URL).Call(context.Background(), "GetNode", getNode{ID: 1})
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.False(t, te.Retryable())
	assert.EqualValues(t, 1, calls.Load())
}

func TestCallSendsBasicAuth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, okResponse)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Endpoint: srv.URL, Username: "admin", Password: "secret"})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "GetNode", getNode{ID: 1})
	require.NoError(t, err)
}

func TestGet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "hello")
	}))
	t.Cleanup(srv.Close)
	c := newClient(t, srv.URL)

	rc, n, err := c.Get(context.Background(), srv.URL+"/doc")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, n)

	_, _, err = c.Get(context.Background(), srv.URL+"/missing")
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, te.Status)
	assert.Contains(t, err.Error(), "gone")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ClassOther},
		{name: "deadline", err: context.DeadlineExceeded, want: ClassTimeout},
		{name: "net timeout", err: timeoutErr{}, want: ClassTimeout},
		{name: "tls handshake", err: errors.New("remote error: tls: handshake failure"), want: ClassTLS},
		{name: "dial", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: ClassConnect},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "cs.invalid"}, want: ClassConnect},
		{name: "transport error", err: &TransportError{Class: ClassHTTP}, want: ClassHTTP},
		{name: "other", err: errors.New("boom"), want: ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCallConnectFailureIsTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{Endpoint: url, MaxTries: 1})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "GetNode", getNode{ID: 1})
	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, ClassConnect, te.Class)
	assert.True(t, te.Retryable())
}
