package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sankey-copier/relay-server/internal/apperr"
)

// problemBaseURI anchors every Problem.Type produced by this package. The
// URIs are never fetched; they only need to be stable identifiers per code.
const problemBaseURI = "https://relay.sankey-copier.dev/problems/"

// Problem is an RFC 9457 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	p := Problem{
		Type:     problemBaseURI + code,
		Title:    code,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(p)
}

// writeErr reports err as a Problem Details body, mapping its apperr.Kind
// (and, within Validation, its code's NotFound/AlreadyExists suffix) to an
// HTTP status.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		writeProblem(w, r, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	writeProblem(w, r, statusForAppErr(appErr), appErr.Code, appErr.Msg)
}

func statusForAppErr(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindDecode:
		return http.StatusBadRequest
	case apperr.KindValidation:
		switch {
		case strings.HasSuffix(e.Code, "NotFound"):
			return http.StatusNotFound
		case strings.HasSuffix(e.Code, "AlreadyExists"):
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case apperr.KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
