package domain

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// DetectorMetrics is returned by GET /v1/metrics/detector.
type DetectorMetrics struct {
	Detections        int64   `json:"detections"`
	Failures          int64   `json:"failures"`
	Predictions       int64   `json:"predictions"`
	RejectedSamples   int64   `json:"rejectedInsufficientSamples"`
	RejectedCadence   int64   `json:"rejectedInconsistentCadence"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	ExternalErrors    int64   `json:"externalErrors"`
	AvgPredictionsPer float64 `json:"avgPredictionsPerDetection"`
}
