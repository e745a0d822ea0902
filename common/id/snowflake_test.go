package id_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/common/id"
)

var _ = Describe("Snowflake ids", func() {
	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
	})

	It("generates increasing ids", func() {
		a, b := id.New(), id.New()
		Expect(b).To(BeNumerically(">", a))
	})

	It("round-trips through String and Parse", func() {
		v := id.New()
		parsed, err := id.Parse(id.String(v))
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(v))
	})

	It("rejects non-numeric input", func() {
		_, err := id.Parse("abc")
		Expect(err).To(HaveOccurred())
	})
})
