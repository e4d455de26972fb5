// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/abdulh-dev/ML-Orchestrator/archive"
	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// maxEnrichConcurrency bounds parallel dataset_info calls per listing.
const maxEnrichConcurrency = 8

// enrichedDatasets lists datasets and attaches columns and shape from the
// graphing agent. A dataset whose introspection fails is returned without
// columns; only the listing itself can fail.
func (s *Server) enrichedDatasets(ctx context.Context) ([]translator.Dataset, error) {
	datasets, err := s.orch.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	if s.graphing == nil {
		return datasets, nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxEnrichConcurrency)
	for i := range datasets {
		if datasets[i].Columns != nil || datasets[i].Filename == "" {
			continue
		}
		wg.Add(1)
		go func(d *translator.Dataset) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			info, err := s.graphing.DatasetInfo(ctx, d.Filename)
			if err != nil {
				requestID, _ := orchestrator.IDsFromContext(ctx)
				s.logger.Warn(requestID, "dataset enrichment failed", map[string]interface{}{
					"filename": d.Filename,
					"error":    err.Error(),
				})
				return
			}
			d.Columns = info.Columns
			d.Shape = info.Shape
		}(&datasets[i])
	}
	wg.Wait()
	return datasets, nil
}

func (s *Server) listDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.enrichedDatasets(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	enriched := 0
	for _, d := range datasets {
		if d.Columns != nil {
			enriched++
		}
	}
	if datasets == nil {
		datasets = []translator.Dataset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"datasets": datasets,
		"count":    len(datasets),
		"enriched": enriched,
	})
}

func (s *Server) datasetColumnsHandler(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if strings.TrimSpace(filename) == "" {
		s.sendError(w, r, &ValidationError{Field: "filename"})
		return
	}
	info, err := s.graphing.DatasetInfo(r.Context(), filename)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"filename": filename,
		"columns":  info.Columns,
		"shape":    info.Shape,
	})
}

// multipartOverhead allows for form boundaries and the name field on top of
// the file size limit.
const multipartOverhead = 1 << 20

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes+multipartOverhead)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		s.sendError(w, r, &ValidationError{Field: "file", Message: "expected multipart/form-data with a file field"})
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, r, &ValidationError{Field: "file", Message: "invalid multipart body"})
		return
	}

	// The temp file is removed on every return path below.
	tmp, err := os.CreateTemp(s.cfg.Upload.Dir, "mlorch-upload-*")
	if err != nil {
		sendErrorResponse(w, fmt.Sprintf("could not create temp file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			s.logger.Error(requestIDFrom(r), "failed to remove upload temp file", map[string]interface{}{
				"path":  tmp.Name(),
				"error": err.Error(),
			})
		}
	}()

	var filename, name string
	var size int64
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.uploadReadError(w, r, err)
			return
		}

		switch part.FormName() {
		case "file":
			filename = filepath.Base(part.FileName())
			size, err = io.Copy(tmp, io.LimitReader(part, s.cfg.Upload.MaxBytes+1))
			if err != nil {
				part.Close()
				s.uploadReadError(w, r, err)
				return
			}
			if size > s.cfg.Upload.MaxBytes {
				part.Close()
				sendErrorWithSuggestion(w, "file too large",
					fmt.Sprintf("The maximum upload size is %d bytes.", s.cfg.Upload.MaxBytes), http.StatusRequestEntityTooLarge)
				return
			}
		case "name":
			b, _ := io.ReadAll(io.LimitReader(part, 1024))
			name = strings.TrimSpace(string(b))
		}
		part.Close()
	}

	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		s.sendError(w, r, &ValidationError{Field: "file"})
		return
	}
	if name == "" {
		name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, err := s.orch.UploadDataset(r.Context(), filename, name, tmp)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	out := map[string]interface{}{
		"success":   true,
		"filename":  resp.Filename,
		"name":      resp.Name,
		"file_path": resp.FilePath,
		"message":   resp.Message,
		"size":      size,
	}
	if loc := s.archiveUpload(r, tmp, filename); loc != "" {
		out["archived_to"] = loc
	}

	s.logger.Info(requestIDFrom(r), "dataset uploaded", map[string]interface{}{
		"filename": resp.Filename,
		"size":     size,
	})
	writeJSON(w, http.StatusOK, out)
}

// archiveUpload mirrors the uploaded file. Failures are logged only.
func (s *Server) archiveUpload(r *http.Request, tmp *os.File, filename string) string {
	if s.archiver == nil {
		return ""
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	loc, err := s.archiver.Put(r.Context(), archive.DatasetKey(filename, time.Now()), tmp, contentType)
	if err != nil {
		s.logger.Warn(requestIDFrom(r), "dataset archive failed", map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
		return ""
	}
	return loc
}

func (s *Server) uploadReadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendErrorWithSuggestion(w, "file too large",
			fmt.Sprintf("The maximum upload size is %d bytes.", s.cfg.Upload.MaxBytes), http.StatusRequestEntityTooLarge)
		return
	}
	s.sendError(w, r, &ValidationError{Field: "file", Message: "could not read upload: " + err.Error()})
}
