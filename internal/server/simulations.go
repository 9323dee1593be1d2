package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/pkg/db/pagination"
)

const (
	maxStructureFileSize = 50 << 20
	maxSimulationBody    = 2*maxStructureFileSize + 1<<20
)

// simulationPayload is the JSON document sent in the "payload" form field
// next to the structure files.
type simulationPayload struct {
	Name          string                  `json:"name"`
	Parameters    simdomain.Parameters    `json:"parameters"`
	Equilibration simdomain.Equilibration `json:"equilibration"`
}

func (s *Server) CreateSimulation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSimulationBody)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, simdomain.ErrFileTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	raw := strings.TrimSpace(firstValue(form.Value["payload"]))
	if raw == "" {
		AbortWithError(c, newValidationError("payload", "required", "payload is required"))
		return
	}
	var payload simulationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		AbortWithError(c, newValidationError("payload", "invalid_json", "payload must be a JSON object"))
		return
	}

	protein, err := readFormFile(form, "protein")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if protein == nil {
		AbortWithError(c, simdomain.ErrProteinRequired)
		return
	}
	ligand, err := readFormFile(form, "ligand")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sim, err := s.simsvc.Create(c.Request.Context(), userID, simdomain.CreateRequest{
		Name:          payload.Name,
		Parameters:    payload.Parameters,
		Equilibration: payload.Equilibration,
		Protein:       protein,
		Ligand:        ligand,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, sim)
}

func (s *Server) ListSimulations(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.simsvc.List(c.Request.Context(), userID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (s *Server) GetSimulation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sim, err := s.simsvc.Get(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, sim)
}

// CheckSimulationStatus polls the compute API for the job and returns the
// upstream status document.
func (s *Server) CheckSimulationStatus(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.simsvc.CheckStatus(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (s *Server) GetSimulationResults(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	link, err := s.simsvc.ResultDownloadURL(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, link)
}

// readFormFile returns nil when the part is absent.
func readFormFile(form *multipart.Form, field string) (*simdomain.File, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	if fh.Size > maxStructureFileSize {
		return nil, simdomain.ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, invalidRequestError()
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxStructureFileSize+1))
	if err != nil {
		return nil, invalidRequestError()
	}
	if len(data) > maxStructureFileSize {
		return nil, simdomain.ErrFileTooLarge
	}

	return &simdomain.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
