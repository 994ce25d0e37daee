package api

import (
	"net/http"
	"strconv"

	"github.com/gadicohen93/Veriver/internal/scheduler"
	"github.com/gadicohen93/Veriver/internal/storage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	store *storage.Store
	sched *scheduler.Scheduler
}

func NewServer(store *storage.Store, sched *scheduler.Scheduler) *Server {
	return &Server{store: store, sched: sched}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/channels", s.subscribeChannel)
		v1.GET("/channels", s.listChannels)
		v1.DELETE("/channels/:channel", s.removeChannel)

		// 轮询端消费的两个 feed 接口，响应只含 messages 字段
		v1.GET("/channels/:channel/latest-messages", s.latestMessages)
		v1.GET("/channels/:channel/messages", s.recentMessages)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type subscribeRequest struct {
	Channel string `json:"channel" binding:"required"`
}

func (s *Server) subscribeChannel(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_request",
			"message": "channel is required",
		})
		return
	}

	ch, err := s.store.SubscribeChannel(req.Channel, "")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_channel",
			"message": err.Error(),
		})
		return
	}

	// 订阅后立即回填最近窗口，轮询端的首次 initial load 就能看到数据
	go s.sched.CollectChannel(ch.Code)

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "subscribed to " + ch.Code,
		"data":    ch,
	})
}

func (s *Server) listChannels(c *gin.Context) {
	channels, err := s.store.ListChannels()
	if err != nil {
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    channels,
	})
}

func (s *Server) removeChannel(c *gin.Context) {
	code := storage.NormalizeChannel(c.Param("channel"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_channel",
			"message": "invalid channel name",
		})
		return
	}
	if err := s.store.RemoveChannel(code); err != nil {
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "removed " + code,
	})
}

func (s *Server) latestMessages(c *gin.Context) {
	channel := storage.NormalizeChannel(c.Param("channel"))

	limitStr := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 10
	}

	items, err := s.store.ListLatest(channel, limit)
	if err != nil {
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": items})
}

func (s *Server) recentMessages(c *gin.Context) {
	channel := storage.NormalizeChannel(c.Param("channel"))

	hoursStr := c.DefaultQuery("hours", "1")
	hours, err := strconv.Atoi(hoursStr)
	if err != nil || hours <= 0 {
		hours = 1
	}

	items, err := s.store.ListSince(channel, hours)
	if err != nil {
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": items})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}
