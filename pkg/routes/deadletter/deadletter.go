package deadletter

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type Queue interface {
	List(ctx context.Context, count int64) ([]redis.DLQEntry, error)
	Get(ctx context.Context, streamID string) (*redis.DLQEntry, error)
	Delete(ctx context.Context, streamID string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	queue  Queue
	replay kafka.MessageHandler
	logger ectologger.Logger
}

// NewHandler serves the dead-letter stream. replay is the handler a message
// is fed back through on POST /dead-letters/:id/replay.
func NewHandler(queue Queue, replay kafka.MessageHandler, logger ectologger.Logger) *Handler {
	return &Handler{queue: queue, replay: replay, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/replay", h.Replay)
}

func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "deadletter_handler.List")
	defer span.End()

	count, _ := strconv.ParseInt(c.QueryParam("count"), 10, 64)
	if count < 1 || count > 1000 {
		count = 100
	}

	entries, err := h.queue.List(ctx, count)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	total, err := h.queue.Count(ctx)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if entries == nil {
		entries = []redis.DLQEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": entries, "total": total})
}

func (h *Handler) get(ctx context.Context, id string) (*redis.DLQEntry, error) {
	entry, err := h.queue.Get(ctx, id)
	if err != nil {
		return nil, canonerr.ToHTTPError(err)
	}
	if entry == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "dead letter %s not found", id)
	}
	return entry, nil
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "deadletter_handler.Get")
	defer span.End()

	entry, err := h.get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "deadletter_handler.Delete")
	defer span.End()

	deleted, err := h.queue.Delete(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if !deleted {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "dead letter %s not found", c.Param("id"))
	}
	return c.NoContent(http.StatusNoContent)
}

// Replay runs the stored message through the handler once and removes it
// from the stream on success.
func (h *Handler) Replay(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "deadletter_handler.Replay")
	defer span.End()

	entry, err := h.get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	msg := &kafka.IncomingMessage{
		Key:       entry.Key,
		Value:     []byte(entry.Value),
		Topic:     entry.Topic,
		Partition: entry.Partition,
		Offset:    entry.Offset,
		Headers:   map[string]string{},
	}
	if entry.MessageType != "" {
		msg.Headers[kafka.HeaderType] = entry.MessageType
	}

	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"stream_id":    entry.StreamID,
		"message_type": entry.MessageType,
	})
	if err := h.replay(ctx, msg); err != nil {
		log.WithError(err).Warn("Replayed dead letter failed again")
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "replay failed: %s", err.Error())
	}

	if _, err := h.queue.Delete(ctx, entry.StreamID); err != nil {
		return canonerr.ToHTTPError(err)
	}
	log.Info("Replayed dead letter")
	return c.NoContent(http.StatusNoContent)
}
