// Package soap is a small SOAP 1.1 client used by the repository connectors.
// Requests are marshaled with encoding/xml, responses are parsed with
// xmlquery, and transport failures are retried with exponential backoff.
package soap
