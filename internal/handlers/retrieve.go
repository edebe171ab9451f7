package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bible-rag-api/internal/metrics"
	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/services"
)

// Retriever is the engine surface the handler depends on.
type Retriever interface {
	Retrieve(ctx context.Context, p services.RetrieveParams) (*services.RetrieveResult, error)
	Evaluate(ctx context.Context, req models.EvaluateRequest) (*models.EvaluateResponse, error)
}

// RAGHandler handles the retrieval endpoints.
type RAGHandler struct {
	engine  Retriever
	metrics *metrics.Metrics
}

// NewRAGHandler creates a new retrieval handler.
func NewRAGHandler(engine Retriever, m *metrics.Metrics) *RAGHandler {
	return &RAGHandler{engine: engine, metrics: m}
}

// Retrieve handles GET /rag/retrieve.
func (h *RAGHandler) Retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	params, err := parseRetrieveParams(c)
	if err != nil {
		h.metrics.ObserveRetrieve("invalid_input", firstVersion(nil), 0)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	res, err := h.engine.Retrieve(ctx, *params)
	elapsed := time.Since(start).Seconds()
	version := firstVersion(params.Versions)

	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			h.metrics.ObserveRetrieve("invalid_input", version, elapsed)
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.metrics.ObserveRetrieve("error", version, elapsed)
		return echo.NewHTTPError(http.StatusInternalServerError, "Retrieval failed: "+err.Error())
	}

	status := "success"
	if res.Degraded {
		status = "degraded"
	}
	h.metrics.ObserveRetrieve(status, version, elapsed)

	return c.JSON(http.StatusOK, models.RetrieveResponse{Hits: res.Hits, Timing: res.Timing})
}

// Evaluate handles POST /rag/evaluate.
func (h *RAGHandler) Evaluate(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	resp, err := h.engine.Evaluate(ctx, req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Evaluation failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers retrieval routes.
func (h *RAGHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/rag/retrieve", h.Retrieve)
	g.POST("/rag/evaluate", h.Evaluate)
}

func parseRetrieveParams(c echo.Context) (*services.RetrieveParams, error) {
	params := &services.RetrieveParams{
		Query: c.QueryParam("q"),
		TopK:  10,
	}

	if raw := c.QueryParam("top_k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("top_k must be an integer")
		}
		params.TopK = k
	}

	if raw := c.QueryParam("vector"); raw != "" {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, errors.New("vector must be a JSON array of floats")
		}
		params.Vector = vec
	}

	if raw := c.QueryParam("versions"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				params.Versions = append(params.Versions, trimmed)
			}
		}
	}

	if raw := c.QueryParam("book_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("book_id must be an integer")
		}
		params.BookID = &id
	}
	if raw := c.QueryParam("chapter"); raw != "" {
		ch, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("chapter must be an integer")
		}
		params.Chapter = &ch
	}
	if raw := c.QueryParam("chapter_end"); raw != "" {
		ch, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("chapter_end must be an integer")
		}
		params.ChapterEnd = &ch
	}

	return params, nil
}

func firstVersion(versions []string) string {
	if len(versions) > 0 {
		return versions[0]
	}
	return "all"
}
