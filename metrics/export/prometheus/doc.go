// Package prometheus renders stepauth counters in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [stepauth.Engine] and exposes an
// [http.Handler] that renders every engine counter. Counter names are
// prefixed stepauth_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
