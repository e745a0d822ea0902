package events_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/companion/internal/events"
	"basegraph.app/companion/internal/model"
)

var _ = Describe("Redis streams", func() {
	var (
		ctx      context.Context
		mr       *miniredis.Miniredis
		client   *redis.Client
		producer *events.Producer
		reader   *events.Reader
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		producer = events.NewProducer(client, "test")
		reader = events.NewReader(client, "test", 20*time.Millisecond)
	})

	AfterEach(func() {
		Expect(producer.Close()).To(Succeed())
		mr.Close()
	})

	It("names one stream per conversation", func() {
		Expect(events.StreamName("test", 42)).To(Equal("test:42:frontend"))
		Expect(events.StreamName("", 42)).To(Equal("companion:conversation:42:frontend"))
	})

	It("reads published messages in order", func() {
		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 1, Role: "user", Kind: model.FrontendText, Content: "hello"})).To(Succeed())
		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 2, Role: "assistant", Kind: model.FrontendText, Content: "hi"})).To(Succeed())
		Expect(producer.Publish(ctx, 8, model.FrontendMessage{ID: 1, Kind: model.FrontendText, Content: "other"})).To(Succeed())

		got, err := reader.Read(ctx, 7, events.StartFromBeginning)

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Message.Content).To(Equal("hello"))
		Expect(got[1].Message.Content).To(Equal("hi"))
		Expect(got[1].Message.Role).To(Equal("assistant"))
	})

	It("resumes after the last seen entry", func() {
		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 1, Content: "first"})).To(Succeed())
		first, err := reader.Read(ctx, 7, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))

		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 2, Content: "second"})).To(Succeed())
		next, err := reader.Read(ctx, 7, first[0].StreamID)

		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(HaveLen(1))
		Expect(next[0].Message.Content).To(Equal("second"))
	})

	It("returns nothing when the wait times out", func() {
		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 1, Content: "first"})).To(Succeed())
		first, err := reader.Read(ctx, 7, "")
		Expect(err).NotTo(HaveOccurred())

		got, err := reader.Read(ctx, 7, first[0].StreamID)

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("skips entries without a message", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{
			Stream: events.StreamName("test", 7),
			Values: map[string]any{"kind": "text"},
		}).Err()).To(Succeed())
		Expect(producer.Publish(ctx, 7, model.FrontendMessage{ID: 1, Content: "valid"})).To(Succeed())

		got, err := reader.Read(ctx, 7, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Message.Content).To(Equal("valid"))
	})

	DescribeTable("ParseEntry rejects malformed entries",
		func(values map[string]any) {
			_, err := events.ParseEntry(redis.XMessage{ID: "1-0", Values: values})
			Expect(err).To(HaveOccurred())
		},
		Entry("missing field", map[string]any{}),
		Entry("wrong type", map[string]any{"message": 12}),
		Entry("invalid JSON", map[string]any{"message": "{"}),
	)
})
