package relay

import "chatrelay/internal/domain"

// ServiceName identifies the relay in health reports.
const ServiceName = "chatrelay"

// HealthCheck reports liveness. It never consults the webhook.
func (r *Relay) HealthCheck() domain.HealthReport {
	env := "development"
	if r.production {
		env = "production"
	}
	return domain.HealthReport{
		Status:      "healthy",
		Service:     ServiceName,
		Timestamp:   domain.FormatTimestamp(r.now()),
		Environment: env,
	}
}
