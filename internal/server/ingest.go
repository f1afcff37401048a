package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docflow/internal/common"
)

type ingestFileRequest struct {
	Path string `json:"path"`
}

type ingestDirectoryRequest struct {
	Root       string `json:"root"`
	SkipHidden *bool  `json:"skip_hidden,omitempty"`
}

// ingestFile submits a file already present on the daemon's filesystem.
func (s *Server) ingestFile(c *gin.Context) {
	var req ingestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, common.NewAppError("INVALID_BODY", err.Error(), common.ErrInvalidInput))
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		s.writeError(c, common.NewAppError("MISSING_PATH", "path is required", common.ErrInvalidInput))
		return
	}

	s.logger.Info("starting file ingest", "path", path)
	r, err := s.ingestor.IngestPath(c.Request.Context(), path)
	if err != nil {
		s.writeError(c, common.NewAppError("INGEST_FAILED", err.Error(), common.ErrInvalidInput))
		return
	}
	s.logger.Info("file ingest succeeded", "file_id", r.FileID, "job_id", r.JobID, "deduplicated", r.Deduplicated)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":       r.JobID.String(),
		"file_id":      r.FileID,
		"deduplicated": r.Deduplicated,
		"file_ext":     r.FileExt,
		"source_path":  r.SourcePath,
	})
}

func (s *Server) ingestDirectory(c *gin.Context) {
	var req ingestDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, common.NewAppError("INVALID_BODY", err.Error(), common.ErrInvalidInput))
		return
	}
	root := strings.TrimSpace(req.Root)
	if root == "" {
		s.writeError(c, common.NewAppError("MISSING_ROOT", "root is required", common.ErrInvalidInput))
		return
	}
	skipHidden := true
	if req.SkipHidden != nil {
		skipHidden = *req.SkipHidden
	}

	results, stats, err := s.ingestor.IngestDirectory(c.Request.Context(), root, skipHidden)
	if err != nil {
		s.writeError(c, common.NewAppError("INGEST_FAILED", err.Error(), common.ErrInvalidInput))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"results": results, "stats": stats})
}
