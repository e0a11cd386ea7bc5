package net

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60
	clientAgent      = "mathscore"
)

var reqTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          maxIdleConns,
	IdleConnTimeout:       timeoutInSeconds * time.Second,
	ResponseHeaderTimeout: time.Duration(timeoutInSeconds) * time.Second,
}

// GetHTTPClient returns the client used for dataset downloads.
func GetHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   timeoutInSeconds * time.Second,
		Transport: reqTransport,
	}
}

func getResp(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating HTTP Get request")
	}
	req.Header.Set("User-Agent", clientAgent)

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error executing HTTP Get request: %s", url)
	}
	return resp, nil
}
