package httptp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/hanpama/braid/internal/braid"
	language "github.com/hanpama/braid/internal/language"
)

type response struct {
	Data   map[string]any `json:"data"`
	Errors []*braid.Error  `json:"errors,omitempty"`
}

// Handler serves qf at a GraphQL-over-HTTP POST endpoint, the counterpart
// of Backend. A query function error answers 502.
func Handler(qf braid.QueryFunction) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeResponse(w, http.StatusMethodNotAllowed, response{Errors: []*braid.Error{{Message: "method not allowed"}}})
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil || !gjson.ValidBytes(body) {
			writeResponse(w, http.StatusBadRequest, response{Errors: []*braid.Error{{Message: "invalid JSON"}}})
			return
		}
		req := gjson.ParseBytes(body)
		doc, err := language.ParseQuery(req.Get("query").String())
		if err != nil {
			writeResponse(w, http.StatusBadRequest, response{Errors: []*braid.Error{{Message: err.Error()}}})
			return
		}
		vars, _ := req.Get("variables").Value().(map[string]any)

		res, err := qf.Query(r.Context(), &braid.Query{
			Document:      doc,
			OperationName: req.Get("operationName").String(),
			Variables:     vars,
		})
		if err != nil {
			writeResponse(w, http.StatusBadGateway, response{Errors: []*braid.Error{{Message: err.Error()}}})
			return
		}
		writeResponse(w, http.StatusOK, response{Data: res.Data, Errors: res.Errors})
	})
}

func writeResponse(w http.ResponseWriter, status int, v response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
