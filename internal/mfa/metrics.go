package mfa

import "github.com/prometheus/client_golang/prometheus"

const (
	methodTOTP   = "totp"
	methodBackup = "backup_code"
)

var Verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mfa_verifications_total",
		Help: "Total number of MFA verification attempts by method and outcome.",
	},
	[]string{"method", "outcome"},
)

func countVerification(method string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	Verifications.WithLabelValues(method, outcome).Inc()
}
