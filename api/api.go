package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/maintflow/maintflow"
	"github.com/maintflow/maintflow/api/middleware"
	"github.com/maintflow/maintflow/config"
	"github.com/maintflow/maintflow/internal/apierror"
)

type Api struct {
	maintflow *maintflow.Maintflow
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/api/webhooks/approvals", a.ReceiveApprovalWebhook)

	approvals := router.Group("/api/approvals")
	if conf, err := config.Fetch(); err == nil && conf.Server.Secure {
		approvals.Use(middleware.SecretKeyAuthMiddleware())
	}
	approvals.Use(middleware.ActorMiddleware())

	approvals.GET("/inbox", a.ListInbox)
	approvals.POST("/inbox/:id/read", a.MarkInboxRead)

	approvals.GET("/outbox", a.ListOutbox)
	approvals.GET("/outbox/:id", a.GetOutbox)
	approvals.GET("/outbox/:id/logs", a.ListWebhookLogs)
	approvals.POST("/outbox/:id/retry", a.RetryOutbox)

	approvals.POST("", a.CreateApproval)
	approvals.GET("", a.ListApprovals)
	approvals.GET("/:id", a.GetApproval)
	approvals.PUT("/:id", a.UpdateApproval)
	approvals.DELETE("/:id", a.CancelApproval)
	approvals.POST("/:id/approve", a.ApproveApproval)
	approvals.POST("/:id/reject", a.RejectApproval)
	approvals.POST("/:id/cancel", a.CancelApproval)

	return a.router
}

func NewAPI(m *maintflow.Maintflow) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	return &Api{maintflow: m, router: r}
}

// respondError writes err as {"code","message"} with the status its code maps to.
func respondError(c *gin.Context, err error) {
	code := apierror.CodeOf(err)
	message := err.Error()
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"code": code, "message": message})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": apierror.ErrInvalidInput, "message": err.Error()})
}
