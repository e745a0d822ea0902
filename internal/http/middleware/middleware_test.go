package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/internal/http/middleware"
)

var _ = Describe("middleware", func() {
	var engine *gin.Engine

	BeforeEach(func() {
		engine = gin.New()
		engine.Use(middleware.Recovery(), middleware.Logger())
	})

	serve := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	It("turns panics into 500 responses", func() {
		engine.GET("/boom", func(*gin.Context) { panic("boom") })

		w := serve("/boom")

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(MatchJSON(`{"error":"internal error"}`))
	})

	It("cuts off a stream that already started without appending an error body", func() {
		engine.GET("/conversations/:id/stream", func(c *gin.Context) {
			c.Status(http.StatusOK)
			_, _ = c.Writer.WriteString("event: ping\ndata: ready\n\n")
			panic("reader gone")
		})

		w := serve("/conversations/42/stream")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("event: ping\ndata: ready\n\n"))
	})

	It("marks the request span as failed", func() {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		DeferCleanup(provider.Shutdown, context.Background())

		engine = gin.New()
		engine.Use(func(c *gin.Context) {
			ctx, span := provider.Tracer("test").Start(c.Request.Context(), "request")
			defer span.End()
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		}, middleware.Recovery(), middleware.Logger())
		engine.GET("/conversations/:id/messages", func(*gin.Context) { panic("boom") })

		Expect(serve("/conversations/42/messages").Code).To(Equal(http.StatusInternalServerError))

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Status().Code).To(Equal(codes.Error))
		Expect(spans[0].Status().Description).To(Equal("panic: boom"))
		Expect(spans[0].Events()).NotTo(BeEmpty())
	})

	It("adds the conversation id to the request log fields", func() {
		var fields logger.LogFields
		engine.GET("/conversations/:id", func(c *gin.Context) {
			fields = logger.GetLogFields(c.Request.Context())
			c.Status(http.StatusOK)
		})

		Expect(serve("/conversations/42").Code).To(Equal(http.StatusOK))

		Expect(fields.ConversationID).NotTo(BeNil())
		Expect(*fields.ConversationID).To(Equal(int64(42)))
		Expect(fields.Component).To(Equal("companion.http"))
	})

	It("leaves requests without a numeric id untouched", func() {
		var fields logger.LogFields
		engine.GET("/conversations/:id", func(c *gin.Context) {
			fields = logger.GetLogFields(c.Request.Context())
			c.Status(http.StatusOK)
		})

		serve("/conversations/abc")

		Expect(fields.ConversationID).To(BeNil())
	})
})
