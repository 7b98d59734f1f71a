package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/intake"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/tokenstore"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingJobIntake       = errors.New("job intake dependency required")
	errMissingAppointmentSync = errors.New("appointment sync dependency required")
	errMissingTaskTrigger     = errors.New("task trigger dependency required")
	errMissingContactInspect  = errors.New("contact inspector dependency required")
)

// TokenManager runs the GoHighLevel authorization code flow.
type TokenManager interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*tokenstore.Credential, error)
}

// StateIssuer signs and checks the OAuth state parameter.
type StateIssuer interface {
	Issue() (string, error)
	Consume(state string) error
}

// JobIntake handles job-request forms.
type JobIntake interface {
	Handle(ctx context.Context, request intake.JobRequest) (intake.JobResult, error)
}

// AppointmentSync handles appointment bookings.
type AppointmentSync interface {
	Handle(ctx context.Context, request intake.AppointmentRequest) (intake.AppointmentResult, error)
}

// TaskTrigger runs a scheduled task on demand.
type TaskTrigger interface {
	Trigger(ctx context.Context, name string) (bool, error)
}

// ContactInspector exposes raw GoHighLevel reads for diagnostics.
type ContactInspector interface {
	GetContactRaw(ctx context.Context, contactID string) (json.RawMessage, error)
	Me(ctx context.Context) (json.RawMessage, error)
}

// Dependencies wires the HTTP surface. Tokens may be nil when the bridge runs
// on a static API key; the OAuth routes are then not registered. States may be
// nil, in which case the OAuth flow runs without a state parameter.
type Dependencies struct {
	Tokens          TokenManager
	States          StateIssuer
	JobIntake       JobIntake
	AppointmentSync AppointmentSync
	Tasks           TaskTrigger
	Contacts        ContactInspector
	MaxUploadBytes  int64
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.JobIntake == nil {
		return nil, errMissingJobIntake
	}
	if deps.AppointmentSync == nil {
		return nil, errMissingAppointmentSync
	}
	if deps.Tasks == nil {
		return nil, errMissingTaskTrigger
	}
	if deps.Contacts == nil {
		return nil, errMissingContactInspect
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:          deps.Tokens,
		states:          deps.States,
		jobIntake:       deps.JobIntake,
		appointmentSync: deps.AppointmentSync,
		tasks:           deps.Tasks,
		contacts:        deps.Contacts,
		maxUploadBytes:  maxUploadBytes,
		logger:          logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Tokens != nil {
		router.GET("/auth", handler.handleAuthorize)
		router.GET("/callback", handler.handleCallback)
	}
	router.POST("/ghl-create-job", handler.handleCreateJob)
	router.POST("/ghl-appointment-sync", handler.handleAppointmentSync)
	router.GET("/test-contact-check", handler.handleContactCheck)
	router.GET("/test-payment-check", handler.handlePaymentCheck)
	router.GET("/test-contact/:id", handler.handleTestContact)
	router.GET("/me", handler.handleMe)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens          TokenManager
	states          StateIssuer
	jobIntake       JobIntake
	appointmentSync AppointmentSync
	tasks           TaskTrigger
	contacts        ContactInspector
	maxUploadBytes  int64
	logger          *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
