package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/eventscout/internal/cache"
	"example.com/eventscout/internal/calendar"
	"example.com/eventscout/internal/dedupe"
	"example.com/eventscout/internal/models"
	"example.com/eventscout/internal/pipeline"
	"example.com/eventscout/internal/repositories"
	"example.com/eventscout/internal/search"
)

// EventsHandler serves the public event list and the admin operations
type EventsHandler struct {
	repo     *repositories.EventRepository
	cache    *cache.RedisCache
	elastic  *search.ElasticClient
	calendar calendar.Sink
	pipeline *pipeline.Pipeline
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(
	repo *repositories.EventRepository,
	redisCache *cache.RedisCache,
	elastic *search.ElasticClient,
	calendarSink calendar.Sink,
	ingest *pipeline.Pipeline,
) *EventsHandler {
	return &EventsHandler{
		repo:     repo,
		cache:    redisCache,
		elastic:  elastic,
		calendar: calendarSink,
		pipeline: ingest,
	}
}

// EventView is one row of the public list, with every field normalized to a
// render-safe string.
type EventView struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

const listCacheTTL = 30 * time.Second

// ListEvents handles the public read-only list view
func (h *EventsHandler) ListEvents(c *gin.Context) {
	var views []EventView
	if err := h.cache.Get(c.Request.Context(), cache.EventListCacheKey, &views); err == nil {
		c.JSON(http.StatusOK, views)
		return
	}

	events, err := h.repo.ReadAll(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}

	views = make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, toView(ev))
	}

	if err := h.cache.Set(c.Request.Context(), cache.EventListCacheKey, views, listCacheTTL); err != nil {
		log.Debug().Err(err).Msg("Failed to cache event list")
	}

	c.JSON(http.StatusOK, views)
}

// toView forces every field to a safe string, matching the defensive
// mapping of the original list view.
func toView(ev models.Event) EventView {
	title := ev.Title
	if strings.TrimSpace(title) == "" {
		title = "No Title"
	}
	date := ev.Date
	if normalized, err := dedupe.NormalizeDate(ev.Date); err == nil {
		date = normalized
	}
	link := ev.Link
	if strings.TrimSpace(link) == "" {
		link = "#"
	}
	return EventView{
		Title:       title,
		Date:        date,
		Time:        ev.Time,
		Description: ev.Description,
		Link:        link,
	}
}

// DeleteEvent handles the admin delete-by-title operation
func (h *EventsHandler) DeleteEvent(c *gin.Context) {
	title := c.Query("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	found, err := h.repo.DeleteFirstMatchingTitle(c.Request.Context(), title)
	if err != nil {
		log.Error().Err(err).Str("title", title).Msg("Failed to delete event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"result": "NOT_FOUND"})
		return
	}

	h.invalidateListCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"result": "SUCCESS"})
}

// CalendarRequest is the body of an admin add-to-calendar request
type CalendarRequest struct {
	Title       string `json:"title" binding:"required"`
	Date        string `json:"date" binding:"required"`
	Time        string `json:"time"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// AddToCalendar handles the admin calendar sink operation
func (h *EventsHandler) AddToCalendar(c *gin.Context) {
	var req CalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.calendar.CreateAllDayEvent(c.Request.Context(), req.Title, req.Date, calendar.EventOptions{
		Description: req.Description,
		Time:        req.Time,
		Link:        req.Link,
	})
	if err != nil {
		log.Error().Err(err).Str("title", req.Title).Msg("Failed to create calendar event")
		c.JSON(http.StatusBadGateway, gin.H{"result": "ERROR: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "SUCCESS"})
}

// TriggerIngest handles the admin manual pipeline trigger
func (h *EventsHandler) TriggerIngest(c *gin.Context) {
	summary, err := h.pipeline.Run(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual ingestion run failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if summary.Appended > 0 {
		h.invalidateListCache(c.Request.Context())
	}
	c.JSON(http.StatusOK, summary)
}

// SearchEvents handles the elastic-backed admin search
func (h *EventsHandler) SearchEvents(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	if h.elastic == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}

	docs, err := h.elastic.SearchEvents(c.Request.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("Event search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, docs)
}

func (h *EventsHandler) invalidateListCache(ctx context.Context) {
	if err := h.cache.Delete(ctx, cache.EventListCacheKey); err != nil {
		log.Debug().Err(err).Msg("Failed to invalidate event list cache")
	}
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/events", h.ListEvents)

	admin := router.Group("/admin")
	admin.DELETE("/events", h.DeleteEvent)
	admin.POST("/events/calendar", h.AddToCalendar)
	admin.POST("/ingest", h.TriggerIngest)
	admin.GET("/events/search", h.SearchEvents)
}
