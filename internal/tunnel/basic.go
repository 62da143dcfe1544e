package tunnel

import (
	"encoding/base64"
)

type basicAuth struct {
	proxy ProxyConfig
}

func newBasicAuth(proxy ProxyConfig) *basicAuth {
	return &basicAuth{proxy: proxy}
}

func (a *basicAuth) Scheme() string {
	return "Basic"
}

func (a *basicAuth) Handles(challenge string) bool {
	return hasScheme(challenge, "basic")
}

func (a *basicAuth) SetChallenge(string) bool {
	return true
}

func (a *basicAuth) Apply(req *Request) error {
	creds := base64.StdEncoding.EncodeToString([]byte(a.proxy.Username + ":" + a.proxy.Password))
	if err := req.SetHeader(proxyAuthorizationHeader, "Basic "+creds); err != nil {
		return err
	}
	req.SetAuthComplete(true)
	return nil
}
