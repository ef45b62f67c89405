package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomchat"

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_appended_total",
		Help:      "Messages durably appended to a room log.",
	})

	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Failed sends, by the stage that failed (upload, append).",
	}, []string{"stage"})

	AttachmentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attachment_bytes_total",
		Help:      "Bytes of attachments uploaded.",
	})

	ReactionsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reactions_merged_total",
		Help:      "Reaction writes accepted by the log.",
	})

	ReactionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaction_failures_total",
		Help:      "Rejected reaction writes, by reason.",
	}, []string{"reason"})

	SyncInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_interruptions_total",
		Help:      "Room subscriptions lost and retried.",
	})

	SyncViews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_views",
		Help:      "Room views currently attached.",
	})
)
