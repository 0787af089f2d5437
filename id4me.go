// Package id4me implements the relying-party side of the ID4me federated
// login protocol: DNS-based authority discovery, authority metadata fetching,
// dynamic client registration, and the authorization-code token exchange.
package id4me

import (
	"context"
	"net"
	"net/http"
	"time"
)

// LookupTXTFunc resolves the TXT records for a DNS name. It exists so that
// discovery can be exercised without live DNS.
type LookupTXTFunc func(ctx context.Context, name string) ([]string, error)

type Client struct {
	h         *http.Client
	lookupTXT LookupTXTFunc
}

type ClientArgs struct {
	// H is the http client used for all authority calls. A client with a
	// 5 second timeout is used when nil.
	H *http.Client

	// LookupTXT overrides the DNS TXT resolver used during discovery.
	// net.DefaultResolver is used when nil.
	LookupTXT LookupTXTFunc
}

func NewClient(args ClientArgs) *Client {
	if args.H == nil {
		args.H = &http.Client{
			Timeout: 5 * time.Second,
		}
	}

	if args.LookupTXT == nil {
		args.LookupTXT = net.DefaultResolver.LookupTXT
	}

	return &Client{
		h:         args.H,
		lookupTXT: args.LookupTXT,
	}
}
