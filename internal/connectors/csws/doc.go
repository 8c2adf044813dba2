// Package csws implements the repository connector for OpenText Content
// Server reached through its Csws SOAP services.
//
// Document identifiers are the object id prefixed with D for documents and F
// for containers. Projects are addressed through their volume, which carries
// the negated project id.
package csws
