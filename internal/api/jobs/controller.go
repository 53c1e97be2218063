package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/logger"
)

type (
	DownloadRequest struct {
		URL string `json:"url" validate:"required"`
	}

	StatusRequest struct {
		JobID string `json:"job_id"`
	}

	// SubmitResponse acknowledges an accepted job. The job record itself is
	// read back through the status endpoint.
	SubmitResponse struct {
		JobID  string           `json:"job_id"`
		Status domain.JobStatus `json:"status"`
	}

	NotFoundResponse struct {
		Status string `json:"status"`
	}

	Service interface {
		Submit(ctx context.Context, raw string) (*domain.Job, error)
		Status(ctx context.Context, jobID string) (*domain.Job, error)
		File(ctx context.Context, jobID, filename string) (string, error)
	}

	// Controller owns the job submission, status and file routes.
	Controller struct {
		service  Service
		validate *validator.Validate
	}
)

var controllerLogger = logger.Get("JobsController")

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service, validate: validate}
}

func (controller *Controller) SetRoutes(ec *echo.Echo) {
	ec.POST("/api/download", controller.submit)
	ec.POST("/api/status", controller.status)
	ec.GET("/download_file/:job_id/:filename", controller.file)
}

func (controller *Controller) submit(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "URL not provided")
	}

	job, err := controller.service.Submit(ec.Request().Context(), request.URL)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		controllerLogger.Errorf("Failed to submit job for %s: %v\n", request.URL, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to queue job")
	}

	return ec.JSON(http.StatusAccepted, SubmitResponse{JobID: job.ID, Status: job.Status})
}

func (controller *Controller) status(ec echo.Context) error {
	var request StatusRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	job, err := controller.service.Status(ec.Request().Context(), request.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ec.JSON(http.StatusNotFound, NotFoundResponse{Status: "not_found"})
		}
		controllerLogger.Errorf("Failed to read status of job %s: %v\n", request.JobID, err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	return ec.JSON(http.StatusOK, job)
}

// file streams a completed job's output as an attachment.
func (controller *Controller) file(ec echo.Context) error {
	jobID, filename := ec.Param("job_id"), ec.Param("filename")
	if ec.Request().URL.RawPath != "" {
		// Routing happened on the escaped path, so params are still escaped.
		var err error
		if jobID, err = url.PathUnescape(jobID); err != nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		if filename, err = url.PathUnescape(filename); err != nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
	}

	path, err := controller.service.File(ec.Request().Context(), jobID, filename)
	switch {
	case errors.Is(err, domain.ErrForbidden):
		controllerLogger.Warnf("Rejected file request outside job directory: %s/%s\n", jobID, filename)
		return echo.NewHTTPError(http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case err != nil:
		controllerLogger.Errorf("Failed to resolve file %s/%s: %v\n", jobID, filename, err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	return ec.Attachment(path, filename)
}
