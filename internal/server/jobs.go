package server

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/options"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

type submitResponse struct {
	ID     string                  `json:"id"`
	Status constants.JobStatus     `json:"status"`
	Error  *entity.ProcessingError `json:"error,omitempty"`
}

// submitJob accepts multipart form data: "file" (required), "options" (JSON
// options bag), "file_id" (defaults to the content sha256) and "format"
// (declared format or mime type, defaults to the part's Content-Type).
func (s *Server) submitJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, common.NewAppError("MISSING_FILE", "multipart field \"file\" is required", common.ErrInvalidInput))
		return
	}
	opts, err := options.Decode([]byte(c.PostForm("options")))
	if err != nil {
		s.writeError(c, common.NewAppError("INVALID_OPTIONS", err.Error(), common.ErrInvalidInput))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, common.NewAppError("UNREADABLE_FILE", err.Error(), common.ErrInvalidInput))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(c, common.NewAppError("UNREADABLE_FILE", err.Error(), common.ErrInvalidInput))
		return
	}

	fileID := c.PostForm("file_id")
	if fileID == "" {
		sum := sha256.Sum256(data)
		fileID = hex.EncodeToString(sum[:])
	}
	declared := c.PostForm("format")
	if declared == "" {
		declared = fh.Header.Get("Content-Type")
	}

	id, err := s.jobs.Submit(c.Request.Context(), pipeline.SubmitRequest{
		Data:           data,
		FileID:         fileID,
		FileName:       fh.Filename,
		DeclaredFormat: declared,
		Options:        opts,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	view, err := s.jobs.Status(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{ID: id.String(), Status: view.Status, Error: view.Error})
}

func (s *Server) getJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	view, err := s.jobs.Status(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) listJobs(c *gin.Context) {
	var filter repository.ListFilter
	if raw := c.Query("status"); raw != "" {
		statuses := make([]string, len(constants.AllStatuses))
		for i, st := range constants.AllStatuses {
			statuses[i] = string(st)
		}
		if err := common.ValidateAndReturnError(common.NewValidator().Field("status", raw, common.OneOf(statuses...))); err != nil {
			s.writeError(c, err)
			return
		}
		filter.Status = constants.JobStatus(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(c, common.NewAppError("INVALID_LIMIT", "limit must be a positive integer", common.ErrInvalidInput))
			return
		}
		filter.Limit = n
	}
	views, err := s.jobs.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) cancelJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.jobs.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "status": constants.JobStatusCancelled})
}
