package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
)

const namespace = "gatewaykit"

// Metrics counts gateway client activity.
type Metrics struct {
	Binds              *prometheus.CounterVec
	Registrations      *prometheus.CounterVec
	ParcelsSent        *prometheus.CounterVec
	ParcelsDelivered   prometheus.Counter
	ParcelsDisregarded *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg unless it is
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Binds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "binds_total",
			Help:      "Attempts to bind to the relay, by outcome.",
		}, []string{"outcome"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "registrations_total",
			Help:      "Endpoint registrations, by outcome.",
		}, []string{"outcome"}),
		ParcelsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "parcels_sent_total",
			Help:      "Parcels handed to the relay, by outcome.",
		}, []string{"outcome"}),
		ParcelsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "parcels_delivered_total",
			Help:      "Inbound parcels delivered to subscribers.",
		}),
		ParcelsDisregarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "parcels_disregarded_total",
			Help:      "Inbound parcels acknowledged and dropped, by reason.",
		}, []string{"reason"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func disregardReason(err error) string {
	switch {
	case errors.Is(err, messaging.ErrMalformedParcel):
		return "malformed"
	case errors.Is(err, messaging.ErrUnknownRecipient):
		return "unknown_recipient"
	case errors.Is(err, messaging.ErrUnknownSender):
		return "unknown_sender"
	case errors.Is(err, messaging.ErrUndecryptable):
		return "undecryptable"
	case errors.Is(err, messaging.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "other"
	}
}
