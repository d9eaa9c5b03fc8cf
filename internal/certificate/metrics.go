package certificate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	certificatesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wipecert_certificates_appended_total",
		Help: "Certificates appended to the chain by session result.",
	}, []string{"status"})

	verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wipecert_verifications_total",
		Help: "Certificate verifications by scope and outcome.",
	}, []string{"scope", "status"})
)

func init() {
	prometheus.MustRegister(certificatesAppended, verifications)
}
