package jobs

import (
	"context"
	"net/http"

	"encore.dev/cron"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourmaline.app/pkg/logger"
	"tourmaline.app/svc/checkout"
)

//encore:service
type Service struct{}

func initService() (*Service, error) { return &Service{}, nil }

//encore:api private
func RunRateLimitCleanup(ctx context.Context) (*checkout.CleanupResponse, error) {
	resp, err := checkout.CleanupRateLimits(ctx)
	if err != nil {
		logger.LogError(ctx, err, "rate limit cleanup failed")
		return nil, err
	}
	logger.Debug(ctx, "rate limit cleanup done", logger.Fields{"remaining": resp.Remaining})
	return resp, nil
}

var _ = cron.NewJob("rate-limit-cleanup", cron.JobConfig{
	Title:    "Drop expired payment rate-limit records",
	Every:    10 * cron.Minute,
	Endpoint: RunRateLimitCleanup,
})

//encore:api public raw method=GET path=/metrics
func Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
