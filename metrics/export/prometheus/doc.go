// Package prometheus renders adminauth counters in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps an [adminauth.Engine] and serves every
// counter as adminauth_*_total, the adminauth_authenticate_latency_seconds
// histogram and the adminauth_security_warnings gauge, so an alert can fire
// when the running configuration drifts into a weak posture. Nothing is
// registered globally; callers mount [PrometheusExporter.Handler].
package prometheus
