package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/intake"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/polling"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/remote"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 32 << 20
	photosFormField       = "photos"
)

var errUploadTooLarge = errors.New("uploaded photo exceeds size limit")

func (h *httpHandler) handleAuthorize(c *gin.Context) {
	state := ""
	if h.states != nil {
		issued, err := h.states.Issue()
		if err != nil {
			h.logger.Error("failed to issue oauth state", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start authorization"})
			return
		}
		state = issued
	}
	c.Redirect(http.StatusFound, h.tokens.AuthCodeURL(state))
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No code provided!"})
		return
	}
	if h.states != nil {
		if err := h.states.Consume(c.Query("state")); err != nil {
			h.logger.Warn("oauth state rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired state"})
			return
		}
	}

	credential, err := h.tokens.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to exchange code for tokens."})
		return
	}
	h.logger.Info("ghl authorization completed", zap.String("location_id", credential.LocationID))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Tokens saved!",
		"locationId": credential.LocationID,
		"expiresIn":  credential.ExpiresIn,
	})
}

func (h *httpHandler) handleCreateJob(c *gin.Context) {
	var request intake.JobRequest
	if err := c.ShouldBind(&request); err != nil {
		h.logger.Warn("job request could not be decoded", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	request.Photos, request.PhotosRejected = h.readUploads(c)

	result, err := h.jobIntake.Handle(c.Request.Context(), request)
	if err != nil {
		var missing *intake.MissingFieldsError
		if errors.As(err, &missing) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields", "fields": missing.Fields})
			return
		}
		h.logger.Error("job creation failed", zap.String("ghl_contact_id", request.GHLContactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "code": errorCode(err)})
		return
	}
	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{"message": "Job creation skipped (duplicate request)"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Job created successfully",
		"jobUuid":        result.JobUUID,
		"photosAttached": result.PhotosAttached,
		"photosFailed":   result.PhotosFailed,
	})
}

// readUploads loads the multipart photo files into memory. Requests without a
// multipart body have none. Files that are too large or unreadable are logged
// and counted as rejected; they never fail the request.
func (h *httpHandler) readUploads(c *gin.Context) ([]intake.Upload, int) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, 0
	}
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("job request photos unreadable", zap.Error(err))
		return nil, 0
	}
	headers := form.File[photosFormField]
	uploads := make([]intake.Upload, 0, len(headers))
	rejected := 0
	for _, header := range headers {
		data, err := readUpload(header, h.maxUploadBytes)
		if err != nil {
			rejected++
			h.logger.Warn("job request photo rejected", zap.String("filename", header.Filename), zap.Int64("size", header.Size), zap.Error(err))
			continue
		}
		uploads = append(uploads, intake.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, rejected
}

func readUpload(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	if header.Size > maxBytes {
		return nil, errUploadTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errUploadTooLarge
	}
	return data, nil
}

func (h *httpHandler) handleAppointmentSync(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing appointment data"})
		return
	}
	request, err := intake.DecodeAppointment(payload)
	if err != nil {
		h.logger.Warn("appointment payload could not be decoded", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing appointment data"})
		return
	}

	result, err := h.appointmentSync.Handle(c.Request.Context(), request)
	switch {
	case errors.Is(err, intake.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing appointment data"})
		return
	case errors.Is(err, intake.ErrInvalidDateFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format"})
		return
	case err != nil:
		h.logger.Error("appointment sync failed", zap.String("appointment_id", request.ID), zap.Error(err))
		code := errorCode(err)
		message := "Failed to sync appointment"
		if strings.HasSuffix(code, ".fetch_contact") {
			message = "Failed to fetch contact details"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": message, "code": code})
		return
	}

	switch result.State {
	case intake.StateAlreadySynced:
		c.JSON(http.StatusOK, gin.H{"message": "Appointment already synced"})
	case intake.StateNoSlotAvailable:
		c.JSON(http.StatusOK, gin.H{"message": "No staff available for the requested time", "jobUuid": result.JobUUID, "state": result.State})
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":      "Appointment synced",
			"jobUuid":      result.JobUUID,
			"activityUuid": result.ActivityUUID,
			"staffUuid":    result.StaffUUID,
		})
	}
}

func (h *httpHandler) handleContactCheck(c *gin.Context) {
	h.triggerTask(c, polling.ContactSyncTask, "Contact check triggered")
}

func (h *httpHandler) handlePaymentCheck(c *gin.Context) {
	h.triggerTask(c, polling.CompletionSyncTask, "Payment check triggered")
}

func (h *httpHandler) triggerTask(c *gin.Context, task, message string) {
	ran, err := h.tasks.Trigger(c.Request.Context(), task)
	if err != nil {
		h.logger.Error("manual task run failed", zap.String("task", task), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "Task already running", "task": task})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *httpHandler) handleTestContact(c *gin.Context) {
	contact, err := h.contacts.GetContactRaw(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.remoteFailure(c, "test contact fetch failed", err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", contact)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	me, err := h.contacts.Me(c.Request.Context())
	if err != nil {
		h.remoteFailure(c, "ghl user lookup failed", err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", me)
}

func (h *httpHandler) remoteFailure(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	response := gin.H{"error": err.Error()}
	if status := remote.StatusOf(err); status != 0 {
		response["status"] = status
	}
	c.JSON(http.StatusInternalServerError, response)
}

func errorCode(err error) string {
	var serviceErr *intake.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
