package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

const maxUploadBytes = 10 << 20

// rowError reports a rejected CSV line; Row is the 1-based line number.
type rowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type bulkResponse struct {
	Created []scraper.Job `json:"created"`
	Errors  []rowError    `json:"errors"`
}

// bulkCreateJobs imports jobs from a CSV with a name,url header. The CSV is
// read from a multipart "file" field or from the raw request body.
func (s *Server) bulkCreateJobs(w http.ResponseWriter, r *http.Request) {
	body, closeFn, err := csvSource(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFn()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		writeError(w, http.StatusBadRequest, "CSV must include a header row")
		return
	}
	nameCol, urlCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "name":
			nameCol = i
		case "url":
			urlCol = i
		}
	}
	if nameCol < 0 || urlCol < 0 {
		writeError(w, http.StatusBadRequest, "CSV must have name and url columns")
		return
	}

	owner := ownerFrom(r.Context())
	resp := bulkResponse{Created: []scraper.Job{}, Errors: []rowError{}}
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed rows are reported and skipped; the reader resumes on the
			// next line. Any other error means the body itself failed.
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				resp.Errors = append(resp.Errors, rowError{Error: err.Error()})
				break
			}
			resp.Errors = append(resp.Errors, rowError{Row: parseErr.Line, Error: err.Error()})
			continue
		}
		row, _ := reader.FieldPos(0)
		if blankRow(fields) {
			continue
		}
		req := jobRequest{Name: field(fields, nameCol), URL: field(fields, urlCol)}
		if err := req.validate(); err != nil {
			resp.Errors = append(resp.Errors, rowError{Row: row, Error: err.Error()})
			continue
		}
		job, err := s.newJob(owner, req.Name, req.URL, scraper.SelectorConfig{}, scraper.DefaultRunSettings())
		if err == nil {
			err = s.deps.Store.CreateJob(r.Context(), job)
		}
		if err != nil {
			s.logger.Warn("bulk row rejected", zap.Int("row", row), zap.Error(err))
			resp.Errors = append(resp.Errors, rowError{Row: row, Error: err.Error()})
			continue
		}
		resp.Created = append(resp.Created, job)
	}

	if len(resp.Created) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "No valid jobs found in CSV",
			"errors": resp.Errors,
		})
		return
	}
	s.logger.Info("bulk jobs created",
		zap.String("user_id", owner),
		zap.Int("created", len(resp.Created)),
		zap.Int("rejected", len(resp.Errors)),
	)
	writeJSON(w, http.StatusCreated, resp)
}

func csvSource(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return http.MaxBytesReader(w, r.Body, maxUploadBytes), func() {}, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errors.New(`multipart upload must include a "file" field`)
	}
	return file, func() { _ = file.Close() }, nil
}

func field(fields []string, idx int) string {
	if idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
