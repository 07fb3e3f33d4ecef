package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Recorder exposes the partition a worker computed. Every worker computes
// the global partition, so each one can publish every rank's load.
type Recorder struct {
	registry *prometheus.Registry

	catalogDevices     prometheus.Gauge
	deviceMemory       *prometheus.GaugeVec
	shellPairs         *prometheus.GaugeVec
	shellPrimitives    *prometheus.GaugeVec
	shellTypePairs     *prometheus.GaugeVec
	xcBins             *prometheus.GaugeVec
	xcActivePoints     *prometheus.GaugeVec
	xcPointRangeLength *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		catalogDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "catalog",
			Name:      "devices",
			Help:      "usable devices in the device catalog",
		}),
		deviceMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "catalog",
			Name:      "device_memory_mb",
			Help:      "total memory of the device assigned to a rank",
		}, []string{"rank", "device_id", "device_name"}),
		shellPairs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "eri",
			Name:      "shell_pairs",
			Help:      "shell pairs assigned to a rank",
		}, []string{"rank"}),
		shellPrimitives: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "eri",
			Name:      "primitives",
			Help:      "primitive count assigned to a rank",
		}, []string{"rank"}),
		shellTypePairs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "eri",
			Name:      "type_pair_primitives",
			Help:      "primitive count assigned to a rank per shell type pair",
		}, []string{"rank", "type_pair"}),
		xcBins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "xc",
			Name:      "bins",
			Help:      "quadrature bins assigned to a rank",
		}, []string{"rank", "strategy"}),
		xcActivePoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "xc",
			Name:      "active_points",
			Help:      "active quadrature points assigned to a rank",
		}, []string{"rank"}),
		xcPointRangeLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mgpu",
			Subsystem: "xc",
			Name:      "point_range_length",
			Help:      "length of the contiguous grid point range of a rank",
		}, []string{"rank"}),
	}
	r.registry.MustRegister(
		r.catalogDevices,
		r.deviceMemory,
		r.shellPairs,
		r.shellPrimitives,
		r.shellTypePairs,
		r.xcBins,
		r.xcActivePoints,
		r.xcPointRangeLength,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) SetCatalogDevices(n int) {
	r.catalogDevices.Set(float64(n))
}

func (r *Recorder) SetDeviceMemory(rank, deviceID int, name string, memoryMB int) {
	r.deviceMemory.WithLabelValues(strconv.Itoa(rank), strconv.Itoa(deviceID), name).Set(float64(memoryMB))
}

func (r *Recorder) SetShellPairs(rank, pairs, primitives int) {
	l := strconv.Itoa(rank)
	r.shellPairs.WithLabelValues(l).Set(float64(pairs))
	r.shellPrimitives.WithLabelValues(l).Set(float64(primitives))
}

func (r *Recorder) SetTypePairPrimitives(rank int, typePair string, primitives int) {
	r.shellTypePairs.WithLabelValues(strconv.Itoa(rank), typePair).Set(float64(primitives))
}

func (r *Recorder) SetBins(rank int, strategy string, bins int) {
	r.xcBins.WithLabelValues(strconv.Itoa(rank), strategy).Set(float64(bins))
}

func (r *Recorder) SetActivePoints(rank, points int) {
	r.xcActivePoints.WithLabelValues(strconv.Itoa(rank)).Set(float64(points))
}

func (r *Recorder) SetPointRange(rank, length int) {
	r.xcPointRangeLength.WithLabelValues(strconv.Itoa(rank)).Set(float64(length))
}

// Handler serves the recorder registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint in the background.
func (r *Recorder) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("metrics endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics endpoint stopped, err: %s", err)
		}
	}()
	return srv
}
