package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/garnizeh/rioforms/internal/metrics"
)

// Prober is the production Signal. It polls a URL on the upstream origin;
// any HTTP response, whatever its status, counts as online.
type Prober struct {
	broadcaster
	target   string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

func NewProber(target string, interval, timeout time.Duration, client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{target: target, interval: interval, timeout: timeout, client: client, logger: logger}
}

// Check probes once and updates the state.
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			online = true
		}
	}

	if p.set(online) {
		if online {
			metrics.Online.Set(1)
			p.logger.Info("upstream reachable", slog.String("target", p.target))
		} else {
			metrics.Online.Set(0)
			p.logger.Warn("upstream unreachable", slog.String("target", p.target), slog.Any("err", err))
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx ends.
func (p *Prober) Run(ctx context.Context) error {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
