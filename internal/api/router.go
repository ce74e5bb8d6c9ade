package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/handler"
	"github.com/jengzang/lifecycle-backend-go/internal/middleware"
)

// Handlers groups the HTTP handlers mounted under /api/v1
type Handlers struct {
	Events   *handler.EventHandler
	Places   *handler.PlaceHandler
	Timeline *handler.TimelineHandler
	Tags     *handler.VisitTagHandler
	Sleep    *handler.SleepHandler
	Tasks    *handler.AnalysisTaskHandler
}

// SetupRouter 设置路由. limiter may be nil to disable rate limiting.
func SetupRouter(cfg config.ServerConfig, h *Handlers, limiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Lifecycle Backend API is running",
		})
	})

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTSecret))
	if limiter != nil {
		api.Use(middleware.RateLimit(limiter, logger.Named("ratelimit")))
	}
	{
		// 传感器事件
		events := api.Group("/events")
		{
			events.POST("/location", h.Events.PostLocation)
			events.POST("/activity", h.Events.PostActivity)
			events.POST("/geofence", h.Events.PostGeofence)
		}
		api.GET("/tracking/status", h.Events.GetStatus)

		// 地点
		places := api.Group("/places")
		{
			places.GET("", h.Places.ListPlaces)
			places.POST("", h.Places.CreatePlace)
			places.GET("/:id", h.Places.GetPlace)
			places.DELETE("/:id", h.Places.DeletePlace)
		}

		// 访问时间线
		visits := api.Group("/visits")
		{
			visits.GET("", h.Timeline.GetVisits)
			visits.GET("/day", h.Timeline.GetDay)
			visits.GET("/:id/tags", h.Tags.ListTags)
			visits.POST("/:id/tags", h.Tags.AddTag)
			visits.DELETE("/:id/tags/:tagId", h.Tags.DeleteTag)
		}

		// 睡眠
		sleep := api.Group("/sleep")
		{
			sleep.GET("", h.Sleep.ListSleep)
			sleep.POST("/import", h.Sleep.ImportSleep)
			sleep.GET("/stats", h.Sleep.GetStats)
		}

		insights := api.Group("/insights")
		{
			insights.GET("/breakdown", h.Timeline.GetBreakdown)
			insights.GET("/sleep-correlations", h.Timeline.GetSleepCorrelations)
		}

		// 分析任务
		tasks := api.Group("/analysis/tasks")
		{
			tasks.POST("", h.Tasks.CreateTask)
			tasks.GET("", h.Tasks.ListTasks)
			tasks.GET("/:id", h.Tasks.GetTask)
		}
	}

	return r
}
