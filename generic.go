package id4me

import (
	"fmt"
	"net/url"
)

// authorityURL turns a bare authority name into the https base url used for
// well-known fetches, rejecting names that smuggle in a scheme, path, or
// userinfo.
func authorityURL(authority string) (*url.URL, error) {
	u, err := url.Parse("https://" + authority)
	if err != nil {
		return nil, err
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("authority hostname was empty")
	}

	if u.User != nil {
		return nil, fmt.Errorf("authority contained userinfo")
	}

	if u.Path != "" {
		return nil, fmt.Errorf("authority contained a path")
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("authority contained url params")
	}

	if u.Host != authority {
		return nil, fmt.Errorf("authority was not a bare host name")
	}

	return u, nil
}
