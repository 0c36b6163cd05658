package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vpnadm/backend/cert"
)

var (
	certsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpnadm_certs_active",
		Help: "active client certificates",
	})

	certsRevoked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpnadm_certs_revoked",
		Help: "revoked client certificates",
	})

	certsExpired = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpnadm_certs_expired",
		Help: "active client certificates past their expiry",
	})

	certExpireDays = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpnadm_cert_expire_days",
		Help: "client certificate expire time in days",
	},
		[]string{"client"},
	)

	authFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpnadm_auth_failures_total",
		Help: "failed login attempts",
	})

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpnadm_lockouts_total",
		Help: "logins refused because the account was locked",
	})

	pkiCommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vpnadm_pki_command_duration_seconds",
		Help:    "external PKI tool call duration",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"command"},
	)
)

func registerMetrics(registry *prometheus.Registry) {
	registry.MustRegister(certsActive)
	registry.MustRegister(certsRevoked)
	registry.MustRegister(certsExpired)
	registry.MustRegister(certExpireDays)
	registry.MustRegister(authFailuresTotal)
	registry.MustRegister(lockoutsTotal)
	registry.MustRegister(pkiCommandDuration)
}

func (app *VpnAdmin) metricsHandler() http.Handler {
	return promhttp.HandlerFor(app.promRegistry, promhttp.HandlerOpts{})
}

func (app *VpnAdmin) refreshCertMetrics() {
	rows, err := app.certs.List()
	if err != nil {
		return
	}
	var active, revoked, expired float64
	now := time.Now()
	// Full rebuild: forget revoked or vanished clients, not just overwrite.
	certExpireDays.Reset()
	for _, row := range rows {
		switch row.Status {
		case cert.StatusActive:
			active++
			if !row.ExpiresAt.IsZero() && row.ExpiresAt.Before(now) {
				expired++
			}
			certExpireDays.WithLabelValues(row.Name).Set(row.ExpiresAt.Sub(now).Hours() / 24)
		case cert.StatusRevoked:
			revoked++
		}
	}
	certsActive.Set(active)
	certsRevoked.Set(revoked)
	certsExpired.Set(expired)
}
