package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planti_weather_api_calls_total",
			Help: "Total Open-Meteo forecast API calls",
		},
		[]string{"status"},
	)

	WeatherAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planti_weather_api_latency_seconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthScoresComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planti_health_scores_computed_total",
			Help: "Total plant health scores computed and stored",
		},
		[]string{"trigger"},
	)

	HealthJobPlants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planti_health_job_plants_total",
			Help: "Plants processed by the daily health job",
		},
		[]string{"outcome"},
	)

	HealthJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planti_health_job_duration_seconds",
			Help:    "Daily health job run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	HealthJobLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "planti_health_job_last_run_timestamp_seconds",
			Help: "Unix time the daily health job last finished",
		},
	)

	MailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planti_mails_sent_total",
			Help: "Magic link mails by delivery status",
		},
		[]string{"status"},
	)
)
