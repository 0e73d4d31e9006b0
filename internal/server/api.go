package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/sjawhar/popquiz/internal/classctx"
	"github.com/sjawhar/popquiz/internal/quiz"
	"github.com/sjawhar/popquiz/internal/session"
	"github.com/sjawhar/popquiz/internal/storage"
	"github.com/sjawhar/popquiz/internal/transcribe"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxRecentMinutes     = 30
	defaultRecentMinutes = 10
)

type Ingestor interface {
	Enqueue(sessionID string, payload []byte) error
	ForceFlush(ctx context.Context, sessionID string) (*storage.Transcript, error)
}

type ContextBuilder interface {
	Build(ctx context.Context, sessionID string, recentMinutes int) (*classctx.Package, error)
}

type QuizGenerator interface {
	Generate(ctx context.Context, pkg *classctx.Package, count int) ([]quiz.Question, error)
}

type SessionLister interface {
	Sessions(ctx context.Context) ([]storage.SessionInfo, error)
}

type quizRequest struct {
	QuestionCount *int `json:"question_count"`
	RecentMinutes *int `json:"recent_minutes"`
}

func registerAPIRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /health_check", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
	})

	mux.HandleFunc("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := d.Sessions.Sessions(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list rooms: %v", err))
			return
		}
		if sessions == nil {
			sessions = []storage.SessionInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"rooms":     sessions,
			"listening": d.Hub.Rooms(),
		})
	})

	mux.HandleFunc("POST /rooms/{room}/audio", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if !validSessionID(room) {
			writeJSONError(w, http.StatusForbidden, "invalid room id")
			return
		}

		payload, err := readAudio(w, r, d.MaxUploadBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read audio: %v", err))
			return
		}

		if err := d.Ingest.Enqueue(room, payload); err != nil {
			switch {
			case errors.Is(err, transcribe.ErrEmptyPayload):
				writeJSONError(w, http.StatusBadRequest, "audio payload is empty")
			case errors.Is(err, transcribe.ErrPayloadTooLarge):
				writeJSONError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
			case errors.Is(err, session.ErrClosed):
				writeJSONError(w, http.StatusServiceUnavailable, "ingestion is shutting down")
			default:
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue audio: %v", err))
			}
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "bytes": len(payload)})
	})

	mux.HandleFunc("POST /rooms/{room}/flush", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if !validSessionID(room) {
			writeJSONError(w, http.StatusForbidden, "invalid room id")
			return
		}

		rec, err := d.Ingest.ForceFlush(r.Context(), room)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("flush room: %v", err))
			return
		}
		status := "empty"
		if rec != nil {
			status = "flushed"
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "transcript": rec})
	})

	mux.HandleFunc("GET /rooms/{room}/context", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if !validSessionID(room) {
			writeJSONError(w, http.StatusForbidden, "invalid room id")
			return
		}

		minutes := 0
		if raw := r.URL.Query().Get("recent_minutes"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxRecentMinutes {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("recent_minutes must be between 1 and %d", maxRecentMinutes))
				return
			}
			minutes = n
		}

		pkg, err := d.Context.Build(r.Context(), room, minutes)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build context: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"context":     pkg,
			"has_content": pkg.HasContent(),
		})
	})

	mux.HandleFunc("POST /rooms/{room}/quiz", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if !validSessionID(room) {
			writeJSONError(w, http.StatusForbidden, "invalid room id")
			return
		}

		count, minutes, err := parseQuizRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if _, err := d.Ingest.ForceFlush(r.Context(), room); err != nil {
			d.Logger.Warn("server: flush before quiz failed", "room", room, "err", err)
		}

		pkg, err := d.Context.Build(r.Context(), room, minutes)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build context: %v", err))
			return
		}

		questions, err := d.Quiz.Generate(r.Context(), pkg, count)
		if err != nil {
			if errors.Is(err, classctx.ErrNoContent) {
				writeJSONError(w, http.StatusBadRequest, classctx.ErrNoContent.Error())
				return
			}
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate quiz: %v", err))
			return
		}

		d.Hub.BroadcastQuiz(room, questions)
		writeJSON(w, http.StatusOK, map[string]any{"session_id": room, "questions": questions})
	})
}

func parseQuizRequest(r *http.Request) (count, minutes int, err error) {
	count, minutes = quiz.DefaultQuestions, defaultRecentMinutes

	var req quizRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, fmt.Errorf("invalid request body: %v", err)
		}
	}
	if req.QuestionCount != nil {
		if *req.QuestionCount < quiz.MinQuestions || *req.QuestionCount > quiz.MaxQuestions {
			return 0, 0, fmt.Errorf("question_count must be between %d and %d", quiz.MinQuestions, quiz.MaxQuestions)
		}
		count = *req.QuestionCount
	}
	if req.RecentMinutes != nil {
		if *req.RecentMinutes < 1 || *req.RecentMinutes > maxRecentMinutes {
			return 0, 0, fmt.Errorf("recent_minutes must be between 1 and %d", maxRecentMinutes)
		}
		minutes = *req.RecentMinutes
	}
	return count, minutes, nil
}

// readAudio accepts a multipart "file" field or a raw request body.
func readAudio(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
