package connectivity

import (
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"context"
	"fmt"
	"io"
	"net/http"
)

// NetworkCheckerInterface reports whether the general network is usable,
// independently of the backend.
type NetworkCheckerInterface interface {
	Check(ctx context.Context) error
}

type HTTPNetworkChecker struct {
	url    string
	client *http.Client
}

// NewNetworkChecker returns a checker that fetches the configured
// reachability URL. The memory driver and an empty URL get a checker that
// always succeeds.
func NewNetworkChecker(conf *structures.Config, logger providers.Logger) NetworkCheckerInterface {
	if conf.Backend.Driver == "memory" || conf.Backend.ReachabilityURL == "" {
		logger.Infof(providers.TypeApp, "Network reachability check disabled")
		return noopChecker{}
	}
	return &HTTPNetworkChecker{
		url:    conf.Backend.ReachabilityURL,
		client: &http.Client{},
	}
}

func (c *HTTPNetworkChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, http.NoBody)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 500 {
		return fmt.Errorf("reachability check: %s", res.Status)
	}
	return nil
}

type noopChecker struct{}

func (noopChecker) Check(_ context.Context) error { return nil }
