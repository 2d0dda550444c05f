package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gewe_hub_webhook_received_total",
		Help: "Webhook deliveries received, by TypeName.",
	}, []string{"type_name"})
	WebhookRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_webhook_rejected_total",
		Help: "Webhook deliveries that could not be parsed.",
	})

	EventsClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gewe_hub_events_classified_total",
		Help: "Classified events, by kind and leaf.",
	}, []string{"kind", "leaf"})
	ContractViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_contract_violations_total",
		Help: "Payloads dropped because a matched leaf could not be extracted.",
	})
	SelfMessagesFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_self_messages_filtered_total",
		Help: "Message events suppressed because the sender is the receiving account.",
	})
	DuplicateEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_duplicate_events_total",
		Help: "Message events whose dedup id was already stored.",
	})

	DispatchInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gewe_hub_dispatch_in_flight",
		Help: "Dispatch tasks currently running.",
	})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_dispatch_failures_total",
		Help: "Dispatch tasks that failed or panicked.",
	})

	StoredEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gewe_hub_stored_events",
		Help: "Events currently held by the event store.",
	})
	PurgedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_purged_events_total",
		Help: "Events removed by retention purges.",
	})

	GatewayCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gewe_hub_gateway_calls_total",
		Help: "Outbound gateway calls, by path and result.",
	}, []string{"path", "result"})
	GatewayTokenRefresh = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gewe_hub_gateway_token_refresh_total",
		Help: "Token refreshes triggered by failed gateway calls.",
	})
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhookReceived, WebhookRejected,
			EventsClassified, ContractViolations, SelfMessagesFiltered, DuplicateEvents,
			DispatchInFlight, DispatchFailures,
			StoredEvents, PurgedEvents,
			GatewayCalls, GatewayTokenRefresh,
		)
	})
}
