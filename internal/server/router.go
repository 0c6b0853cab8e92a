package server

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/importer"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/webhooks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	claimsContextKey       = "dyelot_operator_claims"
	integrationContextKey  = "dyelot_integration"
	maxWebhookBodyBytes    = 1 << 20
	maxImportBodyBytes     = 32 << 20
	realtimeHeartbeatEvery = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingIntegrations   = errors.New("integration lookup dependency required")
	errMissingSync           = errors.New("sync service dependency required")
	errMissingImporter       = errors.New("importer dependency required")
	errMissingWebhooks       = errors.New("webhook processor dependency required")
	errMissingVerifier       = errors.New("webhook verifier dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	Validate(token string) (auth.OperatorClaims, error)
}

type IntegrationLookup interface {
	Get(ctx context.Context, id string) (*integration.Integration, error)
}

type SyncService interface {
	PushInventory(ctx context.Context, integrationID, inventoryID, source string) (storesync.PushOutcome, error)
	PushColorway(ctx context.Context, integrationID, colorwayID, source string) (storesync.PushResult, error)
	ListLogs(ctx context.Context, integrationID string, page storesync.Page) (storesync.LogPage, error)
}

type ImportService interface {
	ImportProducts(ctx context.Context, integrationID string, file io.Reader) (importer.Result, error)
	ImportOrders(ctx context.Context, integrationID string, file io.Reader) (importer.Result, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.Result, error)
}

type RequestVerifier interface {
	Verify(request *http.Request) bool
}

type Dependencies struct {
	Tokens         TokenValidator
	Integrations   IntegrationLookup
	Sync           SyncService
	Importer       ImportService
	Webhooks       WebhookProcessor
	Verifier       RequestVerifier
	Realtime       *RealtimeDispatcher
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Tokens == nil:
		return nil, errMissingTokenValidator
	case deps.Integrations == nil:
		return nil, errMissingIntegrations
	case deps.Sync == nil:
		return nil, errMissingSync
	case deps.Importer == nil:
		return nil, errMissingImporter
	case deps.Webhooks == nil:
		return nil, errMissingWebhooks
	case deps.Verifier == nil:
		return nil, errMissingVerifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:       deps.Tokens,
		integrations: deps.Integrations,
		sync:         deps.Sync,
		importer:     deps.Importer,
		webhooks:     deps.Webhooks,
		verifier:     deps.Verifier,
		realtime:     realtime,
		logger:       logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/webhooks/shopify", handler.handleShopifyWebhook)

	protected := router.Group("/integrations/:id")
	protected.Use(handler.authorizeRequest, handler.loadIntegration)
	protected.POST("/inventory/:inventoryID/push", handler.handlePushInventory)
	protected.POST("/colorways/:colorwayID/push", handler.handlePushColorway)
	protected.POST("/imports/products", handler.handleImport(handler.importer.ImportProducts))
	protected.POST("/imports/orders", handler.handleImport(handler.importer.ImportOrders))
	protected.GET("/sync-logs", handler.handleListLogs)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens       TokenValidator
	integrations IntegrationLookup
	sync         SyncService
	importer     ImportService
	webhooks     WebhookProcessor
	verifier     RequestVerifier
	realtime     *RealtimeDispatcher
	logger       *zap.Logger
}

type errorPayload struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func respondError(c *gin.Context, status int, message string, details ...string) {
	c.AbortWithStatusJSON(status, errorPayload{Message: message, Errors: details})
}

// respondServiceError maps domain errors onto HTTP statuses.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var details []string
	var serviceErr *storesync.ServiceError
	if errors.As(err, &serviceErr) {
		details = append(details, serviceErr.Code())
	}
	var remoteErr *shopify.RemoteAPIError
	if errors.As(err, &remoteErr) {
		for _, userErr := range remoteErr.UserErrors {
			details = append(details, userErr.Message)
		}
	}

	switch {
	case errors.Is(err, storesync.ErrNotFound), errors.Is(err, integration.ErrNotFound):
		respondError(c, http.StatusNotFound, "not found", details...)
	case errors.Is(err, storesync.ErrIntegrationInactive):
		respondError(c, http.StatusUnprocessableEntity, "integration is inactive", details...)
	case errors.Is(err, shopify.ErrRemoteValidation):
		respondError(c, http.StatusUnprocessableEntity, "store rejected the change", details...)
	case errors.Is(err, importer.ErrEmptyFile), errors.Is(err, importer.ErrMissingHeader), errors.Is(err, importer.ErrInvalidEncoding):
		respondError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error", details...)
	}
}

func (h *httpHandler) handleShopifyWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	if !h.verifier.Verify(c.Request) {
		h.logger.Warn("webhook signature rejected",
			zap.String("topic", c.GetHeader(webhooks.HeaderTopic)),
			zap.String("shop_domain", c.GetHeader(webhooks.HeaderShopDomain)))
		respondError(c, http.StatusUnauthorized, "invalid webhook signature")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "unreadable body")
		return
	}

	result, err := h.webhooks.Process(c.Request.Context(), webhooks.DeliveryFromRequest(c.Request, body))
	if errors.Is(err, webhooks.ErrMalformedPayload) {
		respondError(c, http.StatusBadRequest, "malformed payload", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("webhook processing failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": result.Outcome})
}

type pushInventoryPayload struct {
	Skipped   bool   `json:"skipped"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (h *httpHandler) handlePushInventory(c *gin.Context) {
	outcome, err := h.sync.PushInventory(c.Request.Context(), c.Param("id"), c.Param("inventoryID"), storesync.SourceManual)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, pushInventoryPayload{Skipped: outcome.Skipped, VariantID: outcome.VariantID, Quantity: outcome.Quantity})
}

type pushColorwayPayload struct {
	ProductID       string `json:"product_id"`
	ProductCreated  bool   `json:"product_created"`
	VariantsCreated int    `json:"variants_created"`
	VariantsDeleted int    `json:"variants_deleted"`
	Updated         int    `json:"updated"`
	Skipped         int    `json:"skipped"`
}

func (h *httpHandler) handlePushColorway(c *gin.Context) {
	result, err := h.sync.PushColorway(c.Request.Context(), c.Param("id"), c.Param("colorwayID"), storesync.SourceManual)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, pushColorwayPayload{
		ProductID:       result.ProductID,
		ProductCreated:  result.ProductCreated,
		VariantsCreated: result.VariantsCreated,
		VariantsDeleted: result.VariantsDeleted,
		Updated:         result.Updated,
		Skipped:         result.Skipped,
	})
}

type importFunc func(ctx context.Context, integrationID string, file io.Reader) (importer.Result, error)

func (h *httpHandler) handleImport(run importFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBodyBytes)
		header, err := c.FormFile("file")
		if err != nil {
			respondError(c, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		file, err := header.Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, "uploaded file is unreadable")
			return
		}
		defer file.Close()

		result, err := run(c.Request.Context(), c.Param("id"), file)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type syncLogPayload struct {
	ID           string         `json:"id"`
	LoggableType string         `json:"loggable_type"`
	LoggableID   string         `json:"loggable_id"`
	Status       string         `json:"status"`
	Direction    string         `json:"direction"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata"`
	SyncedAt     time.Time      `json:"synced_at"`
}

type pageMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (h *httpHandler) handleListLogs(c *gin.Context) {
	page := storesync.Page{Number: queryInt(c, "page"), Size: queryInt(c, "per_page")}
	result, err := h.sync.ListLogs(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	data := make([]syncLogPayload, 0, len(result.Logs))
	for _, entry := range result.Logs {
		metadata := map[string]any(entry.Metadata)
		if metadata == nil {
			metadata = map[string]any{}
		}
		data = append(data, syncLogPayload{
			ID:           entry.ID,
			LoggableType: entry.LoggableType,
			LoggableID:   entry.LoggableID,
			Status:       string(entry.Status),
			Direction:    entry.Direction(),
			Message:      entry.Message,
			Metadata:     metadata,
			SyncedAt:     entry.SyncedAt.UTC(),
		})
	}
	totalPages := 0
	if result.PageSize > 0 {
		totalPages = int(math.Ceil(float64(result.Total) / float64(result.PageSize)))
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"meta": pageMeta{Page: result.Page, PerPage: result.PageSize, Total: result.Total, TotalPages: totalPages},
	})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	integrationID := c.Param("id")
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, integrationID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatEvery)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventSync, event)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

// authorizeRequest accepts a bearer header, or an access_token query parameter for
// EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case header == "":
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		respondError(c, http.StatusUnauthorized, errInvalidAuthorization.Error())
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

// loadIntegration scopes the route to a connection owned by the caller's account.
// Connections of other accounts are reported as missing.
func (h *httpHandler) loadIntegration(c *gin.Context) {
	claims, ok := c.Get(claimsContextKey)
	operator, valid := claims.(auth.OperatorClaims)
	if !ok || !valid {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	connection, err := h.integrations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if connection.AccountID != operator.AccountID {
		respondError(c, http.StatusNotFound, "not found")
		return
	}
	c.Set(integrationContextKey, connection)
	c.Next()
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return value
}
