package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("recorder", func() {

	It("publishes partition loads per rank", func() {
		r := NewRecorder()
		r.SetCatalogDevices(2)
		r.SetShellPairs(1, 12, 84)
		r.SetBins(0, "greedy", 5)
		r.SetActivePoints(0, 311)
		Expect(testutil.ToFloat64(r.catalogDevices)).To(Equal(2.0))
		Expect(testutil.ToFloat64(r.shellPairs.WithLabelValues("1"))).To(Equal(12.0))
		Expect(testutil.ToFloat64(r.shellPrimitives.WithLabelValues("1"))).To(Equal(84.0))
		Expect(testutil.ToFloat64(r.xcBins.WithLabelValues("0", "greedy"))).To(Equal(5.0))
		Expect(testutil.ToFloat64(r.xcActivePoints.WithLabelValues("0"))).To(Equal(311.0))
	})

	It("serves the registry", func() {
		r := NewRecorder()
		r.SetTypePairPrimitives(0, "sp", 40)
		srv := httptest.NewServer(r.Handler())
		defer srv.Close()
		resp, err := srv.Client().Get(srv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`mgpu_eri_type_pair_primitives{rank="0",type_pair="sp"} 40`))
	})
})
