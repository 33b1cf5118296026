// Package http builds the HTTP clients used for presigned transfers and the metadata APIs.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/cryptdrive/cdrive/internal/config"
	"github.com/cryptdrive/cdrive/internal/constants"
	"github.com/cryptdrive/cdrive/internal/logging"
)

// CreateOptimizedClient creates an HTTP client for shard and part transfers.
//
// The transport keeps a large idle pool so that concurrent part PUTs against the same
// storage host reuse connections. Compression is disabled since ciphertext does not
// compress. HTTP/2 is attempted unless DISABLE_HTTP2=true or a proxy is active
// (FORCE_HTTP2=true overrides the proxy check).
//
// The client has no overall timeout; callers bound each transfer with its context.
// If cfg is nil, no proxy is configured.
func CreateOptimizedClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg, logger)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: newBaseTransport()}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; keep it as-is
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true

	if err := http2.ConfigureTransport(tr); err != nil && logger != nil {
		logger.Debug().Err(err).Msg("HTTP/2 transport configuration skipped")
	}

	if os.Getenv("DISABLE_HTTP2") == "true" {
		disableHTTP2(tr)
	}

	// Proxies tend to break HTTP/2 multiplexing mid-transfer
	if proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true" {
		disableHTTP2(tr)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
