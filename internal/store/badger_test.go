package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mascotas.dev/petwatch/internal/store"
)

var _ = Describe("BadgerStore", func() {
	var (
		s   *store.BadgerStore
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		s, err = store.NewBadgerStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	Describe("NewBadgerStore", func() {
		It("should reject an empty directory", func() {
			_, err := store.NewBadgerStore("")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Append and RecentFor", func() {
		It("should round-trip a visit", func() {
			visit := visitAt("pet-luna", 0)
			Expect(s.Append(ctx, visit)).To(Succeed())

			visits, err := s.RecentFor(ctx, "pet-luna", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(1))
			Expect(visits[0].EntityID).To(Equal("pet-luna"))
			Expect(visits[0].InsideGeofence).To(BeTrue())
			Expect(visits[0].RecordedAt.Unix()).To(Equal(visit.RecordedAt.Unix()))
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
		})

		It("should not leak visits across entity prefixes", func() {
			// "pet-l" is a key prefix of "pet-luna"; the separator keeps their
			// ranges disjoint.
			Expect(s.Append(ctx, visitAt("pet-l", 0))).To(Succeed())
			Expect(s.Append(ctx, visitAt("pet-luna", 1))).To(Succeed())

			visits, err := s.RecentFor(ctx, "pet-l", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(1))
			Expect(visits[0].EntityID).To(Equal("pet-l"))
		})
	})

	Describe("Latest", func() {
		It("should return nil for an empty store", func() {
			visit, err := s.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).To(BeNil())
		})

		It("should return the most recently appended visit", func() {
			Expect(s.Append(ctx, visitAt("pet-luna", 0))).To(Succeed())
			Expect(s.Append(ctx, visitAt("pet-max", 60))).To(Succeed())

			visit, err := s.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).NotTo(BeNil())
			Expect(visit.EntityID).To(Equal("pet-max"))
		})
	})
})
