package main

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "staffsight",
		Subsystem: "controlplane",
		Name:      "http_requests_total",
		Help:      "Control-plane HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	signedPayloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "staffsight",
		Subsystem: "controlplane",
		Name:      "signed_payloads_total",
		Help:      "Policies and commands stamped with an integrity signature.",
	}, []string{"kind"})
)

func withMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func registerMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
