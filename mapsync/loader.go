package mapsync

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// LoadFeatures retrieves the initial visible set: a GET returning one
// bulkAdd envelope. Any failure yields no initial data, never a
// retry.
func LoadFeatures(ctx context.Context, loadUrl string) []*Feature {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, loadUrl, nil)
	if err != nil {
		glog.Infof("[l]load request error = %s\n", err)
		return []*Feature{}
	}
	response, err := defaultClient().Do(request)
	if err != nil {
		glog.Infof("[l]load %s error = %s\n", loadUrl, err)
		return []*Feature{}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || 300 <= response.StatusCode {
		glog.Infof("[l]load %s status = %s\n", loadUrl, response.Status)
		return []*Feature{}
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		glog.Infof("[l]load read error = %s\n", err)
		return []*Feature{}
	}
	envelope, err := DecodeEnvelope(body)
	if err != nil {
		glog.Infof("[l]load decode error = %s\n", err)
		return []*Feature{}
	}
	if envelope.Type != MessageTypeBulkAdd {
		glog.Infof("[l]load unexpected message type %s\n", envelope.Type)
		return []*Feature{}
	}
	features, err := envelope.Features()
	if err != nil {
		glog.Infof("[l]load payload error = %s\n", err)
		return []*Feature{}
	}
	return features
}
