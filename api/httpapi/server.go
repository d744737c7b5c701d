// Package httpapi serves a read-only admin view of a log over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"seqlog/domain/replog"
)

// Source is a log the router can inspect: the sequencer or a follower.
type Source interface {
	Head() replog.NullUint64
	Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error)
}

// MaxRange caps the records of one /v1/records response.
const MaxRange = 1000

type recordJSON struct {
	GlobalPosition *uint64 `json:"global_position,omitempty"`
	PeerID         string  `json:"peer_id,omitempty"`
	LocalSequence  *uint64 `json:"local_sequence,omitempty"`
	Payload        []byte  `json:"payload"`
}

type headJSON struct {
	Head *uint64 `json:"head"`
}

func optional(n replog.NullUint64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := n.Uint64
	return &v
}

func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/head", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, headJSON{Head: optional(src.Head())})
		})
		r.Get("/records", func(w http.ResponseWriter, r *http.Request) {
			from, err := queryPosition(r, "from")
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			to, err := queryPosition(r, "to")
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			start := uint64(0)
			if from.Valid {
				start = from.Uint64
			}
			if last := start + MaxRange - 1; last >= start && (!to.Valid || to.Uint64 > last) {
				to = replog.Some(last)
			}

			recs, err := src.Range(r.Context(), from, to)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			out := make([]recordJSON, len(recs))
			for i, rec := range recs {
				out[i] = recordJSON{
					GlobalPosition: optional(rec.GlobalPosition),
					PeerID:         string(rec.PeerID),
					LocalSequence:  optional(rec.LocalSequence),
					Payload:        rec.Payload,
				}
			}
			writeJSON(w, http.StatusOK, out)
		})
	})
	return r
}

func queryPosition(r *http.Request, key string) (replog.NullUint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return replog.None, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return replog.None, err
	}
	return replog.Some(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
