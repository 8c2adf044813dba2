// Package meridio implements a repository connector for Meridio document
// and records management. It searches the Document Management web service
// for documents modified in a time window, reads their ACLs and record
// ownership, and fetches the latest version through the web client.
package meridio
