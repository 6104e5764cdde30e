// Package attachment handles the file side channel: a multipart Uploader
// posting to /api/agent/upload with a bearer token, and a per-persona
// Staging area holding the returned references until the next send takes
// them. Staging is independent of connection state and survives reconnects.
package attachment
