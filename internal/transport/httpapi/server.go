package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"liveboard.dev/internal/board"
	"liveboard.dev/internal/protocol"
)

const maxBodyBytes = 1 << 20

// Server exposes the two REST operations over a board.
type Server struct {
	board *board.Board
	log   *log.Logger
}

func NewServer(b *board.Board, logger *log.Logger) *Server {
	return &Server{board: b, log: logger}
}

// ListHandler serves GET /api/posts: every post, newest first.
func (s *Server) ListHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		posts, err := s.board.List(r.Context())
		if err != nil {
			s.log.Printf("list posts: %v", err)
			writeError(rw, http.StatusInternalServerError, protocol.ErrUpstream, err.Error())
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(posts)
	}
}

// CreateHandler serves POST /api/posts/create. The body is validated
// here; malformed input never reaches the store.
func (s *Server) CreateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "read body: "+err.Error())
			return
		}
		req, err := protocol.ParseCreateRequest(body)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}

		post, err := s.board.Create(r.Context(), req.Username, req.Desc, req.Date, req.AuthorID)
		if err != nil {
			if errors.Is(err, board.ErrRateLimited) {
				writeError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "posting too fast")
				return
			}
			s.log.Printf("create post: %v", err)
			writeError(rw, http.StatusInternalServerError, protocol.ErrUpstream, err.Error())
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(rw).Encode(post)
	}
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorResponse{Error: msg, Code: code})
}
