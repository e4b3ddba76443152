package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mascotas.dev/petwatch/internal/store"
)

var _ = Describe("MemoryStore", func() {
	var (
		s   *store.MemoryStore
		ctx context.Context
	)

	BeforeEach(func() {
		s = store.NewMemoryStore()
		ctx = context.Background()
	})

	Describe("RecentFor", func() {
		It("should return an empty result for an unknown entity", func() {
			visits, err := s.RecentFor(ctx, "pet-luna", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(BeEmpty())
		})

		It("should return visits most recent first", func() {
			for i := 0; i < 5; i++ {
				Expect(s.Append(ctx, visitAt("pet-luna", i))).To(Succeed())
			}

			visits, err := s.RecentFor(ctx, "pet-luna", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(5))
			for i := 1; i < len(visits); i++ {
				Expect(visits[i].RecordedAt.After(visits[i-1].RecordedAt)).To(BeFalse())
			}
		})

		It("should honor the limit", func() {
			for i := 0; i < 5; i++ {
				Expect(s.Append(ctx, visitAt("pet-luna", i))).To(Succeed())
			}

			visits, err := s.RecentFor(ctx, "pet-luna", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(2))
			Expect(visits[0].RecordedAt).To(Equal(visitAt("pet-luna", 4).RecordedAt))
		})

		It("should treat a zero limit as unbounded", func() {
			for i := 0; i < 3; i++ {
				Expect(s.Append(ctx, visitAt("pet-luna", i))).To(Succeed())
			}

			visits, err := s.RecentFor(ctx, "pet-luna", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(3))
		})

		It("should keep entities separate", func() {
			Expect(s.Append(ctx, visitAt("pet-luna", 0))).To(Succeed())
			Expect(s.Append(ctx, visitAt("pet-max", 1))).To(Succeed())

			visits, err := s.RecentFor(ctx, "pet-luna", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(1))
			Expect(visits[0].EntityID).To(Equal("pet-luna"))
		})
	})

	Describe("Latest", func() {
		It("should return nil for an empty store", func() {
			visit, err := s.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).To(BeNil())
		})

		It("should return the most recent visit across entities", func() {
			Expect(s.Append(ctx, visitAt("pet-luna", 0))).To(Succeed())
			Expect(s.Append(ctx, visitAt("pet-max", 5))).To(Succeed())

			visit, err := s.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).NotTo(BeNil())
			Expect(visit.EntityID).To(Equal("pet-max"))
		})
	})

	Describe("Close", func() {
		It("should be a no-op", func() {
			Expect(s.Close()).To(Succeed())
		})
	})
})
