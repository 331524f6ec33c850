package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier labels.
const (
	TierDatabase = "database"
	TierFile     = "file"
)

var (
	// TierOperations counts content and media operations by the tier that served them.
	TierOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_tier_operations_total",
			Help: "Content and media operations by serving tier",
		},
		[]string{"operation", "tier"},
	)

	// TierFallbacks counts database-tier misses that fell through to files.
	TierFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_tier_fallbacks_total",
			Help: "Database tier fallbacks to the file tier",
		},
		[]string{"operation", "reason"}, // "unavailable", "error", "empty"
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_persistence_errors_total",
			Help: "Failed writes by tier",
		},
		[]string{"tier"},
	)

	MediaUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_media_uploads_total",
			Help: "Stored media uploads by storage kind",
		},
		[]string{"kind"}, // "webp", "verbatim"
	)

	ContactSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_contact_submissions_total",
			Help: "Contact form submissions by form type and outcome",
		},
		[]string{"type", "outcome"},
	)

	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_mail_deliveries_total",
			Help: "Notification mail attempts by outcome",
		},
		[]string{"outcome"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_login_attempts_total",
			Help: "Login attempts by method and outcome",
		},
		[]string{"method", "outcome"}, // method: "operator", "database"
	)
)
