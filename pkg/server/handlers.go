package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"

	"github.com/MrCodeEU/facecompare/pkg/compare"
	"github.com/MrCodeEU/facecompare/pkg/logging"
)

type compareResponse struct {
	Success   bool    `json:"success"`
	Match     bool    `json:"match"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

type failureResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// NewResponse shapes an Outcome into its wire form.
func NewResponse(out compare.Outcome) any {
	if out.Failure != nil {
		f := out.Failure
		resp := failureResponse{Message: f.Message()}
		switch f.Kind {
		case compare.SourceFetchFailed, compare.UploadDecodeFailed:
			resp.Error = f.Detail
		case compare.InternalError:
			resp.Error = f.Detail
			resp.ErrorType = f.ErrorType
		}
		return resp
	}

	r := out.Result
	return compareResponse{
		Success:   true,
		Match:     r.IsMatch,
		Distance:  math.Round(r.Distance*1e4) / 1e4,
		Threshold: r.Threshold,
		Message:   r.Message(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCompareFace answers every business outcome with 200 and an in-band
// success flag.
func (s *Server) handleCompareFace(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		respondJSON(w, http.StatusOK, NewResponse(compare.Failed(compare.NewBadContentType())))
		return
	}

	if err := r.ParseMultipartForm(s.cfg.MaxMemory); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Failed to parse multipart form")
		respondJSON(w, http.StatusOK, NewResponse(compare.Failed(compare.NewInternalError(err))))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := compare.Request{}
	if req.Image1, err = formInput(r, compare.Image1); err == nil {
		req.Image2, err = formInput(r, compare.Image2)
	}
	if err != nil {
		respondJSON(w, http.StatusOK, NewResponse(compare.Failed(compare.NewInternalError(err))))
		return
	}

	out := s.comparer.Compare(r.Context(), req)
	respondJSON(w, http.StatusOK, NewResponse(out))
}

// formInput reads "<which>_url" and the "<which>" file part.
func formInput(r *http.Request, which string) (compare.Input, error) {
	var in compare.Input
	if v := r.MultipartForm.Value[which+"_url"]; len(v) > 0 {
		in.URL = v[0]
	}

	files := r.MultipartForm.File[which]
	if len(files) == 0 {
		return in, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return in, fmt.Errorf("opening %s upload: %w", which, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return in, fmt.Errorf("reading %s upload: %w", which, err)
	}
	in.File = &compare.Upload{Filename: fh.Filename, Data: data}
	return in, nil
}
