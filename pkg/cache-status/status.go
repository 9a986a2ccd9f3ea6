// Package cachestatus builds the Cache-Status response header (RFC 9211)
// for responses produced by the worker.
package cachestatus

import "fmt"

// HeaderName is the response header carrying the status.
const HeaderName = "Cache-Status"

// DefaultCacheName identifies the worker in the header.
const DefaultCacheName = "offline-worker"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The worker was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"

	// The request's semantics did not allow a stored response to be used.
	FwdRequest FwdReason = "request"
)

type CacheStatus struct {
	name      string
	status    Status
	detail    string
	fwdReason FwdReason
}

func New(name string) *CacheStatus {
	if name == "" {
		name = DefaultCacheName
	}
	return &CacheStatus{name: name}
}

func (cs *CacheStatus) Hit() *CacheStatus {
	cs.status = Hit
	cs.fwdReason = ""
	return cs
}

func (cs *CacheStatus) Forward(reason FwdReason) *CacheStatus {
	cs.status = Fwd
	cs.fwdReason = reason
	return cs
}

func (cs *CacheStatus) Detail(detail string) *CacheStatus {
	cs.detail = detail
	return cs
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cs.name, cs.status)
	if cs.status == Fwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
