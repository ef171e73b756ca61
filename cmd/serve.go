package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"infoportal/internal/bootstrap"
	"infoportal/internal/bootstrap/config"
	"infoportal/internal/bootstrap/logging"
	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/ports"
)

// serveCmd runs the HTTP surface: webhook ingest, sync triggers, search,
// mutations, the websocket event feed and signed attachment downloads.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, services bootstrap.Services) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		if err := config.Watch(ctx, cfgFile, func(cfg config.Config) {
			logging.Info(ctx, "config reloaded", slog.String("env", cfg.App.Env))
		}); err != nil {
			logging.Warn(ctx, "config watch unavailable", slog.Any("err", errs.Loggable(err)))
		}

		server := &http.Server{
			Addr:              app.Config.Serve.Addr,
			Handler:           newRouter(ctx, services),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logging.Info(ctx, "http server listening", slog.String("addr", server.Addr))
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return errs.Wrap(err, "http server")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown http server")
		}
		logging.Info(ctx, "http server stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var eventSubjects = []string{
	ports.EventSubmissionCreated,
	ports.EventSubmissionEdited,
	ports.EventSubmissionValidationEdited,
	ports.EventSubmissionRemoved,
	ports.EventFormSynced,
}

func newRouter(ctx context.Context, services bootstrap.Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/kobo/{koboFormID}", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		if err != nil {
			writeError(ctx, w, errs.BadRequest("unreadable body"))
			return
		}
		if err := services.Sync.HandleWebhook(req.Context(), chi.URLParam(req, "koboFormID"), body); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/sync", func(w http.ResponseWriter, req *http.Request) {
		results, err := services.Sync.SyncAll(req.Context(), "api")
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})

	r.Post("/forms/{formID}/sync", func(w http.ResponseWriter, req *http.Request) {
		result, err := services.Sync.SyncForm(req.Context(), chi.URLParam(req, "formID"), "api")
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/forms/{formID}/submissions", func(w http.ResponseWriter, req *http.Request) {
		params, err := searchParams(req)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		page, err := services.Submissions.Search(req.Context(), params)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	})

	r.Patch("/forms/{formID}/submissions/{submissionID}", func(w http.ResponseWriter, req *http.Request) {
		var answers domainsubmission.Answers
		if err := json.NewDecoder(req.Body).Decode(&answers); err != nil {
			writeError(ctx, w, errs.BadRequest("undecodable answers body"))
			return
		}
		sub, err := services.Updates.UpdateSingle(req.Context(), actor(req),
			chi.URLParam(req, "submissionID"), answers)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	})

	r.Patch("/forms/{formID}/submissions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SubmissionIDs []string `json:"submissionIds"`
			Question      string   `json:"question"`
			Answer        any      `json:"answer"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(ctx, w, errs.BadRequest("undecodable update body"))
			return
		}
		err := services.Updates.BulkUpdateQuestion(req.Context(), actor(req),
			chi.URLParam(req, "formID"), body.SubmissionIDs, body.Question, body.Answer)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Patch("/forms/{formID}/submissions/validation", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SubmissionIDs []string `json:"submissionIds"`
			Status        string   `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(ctx, w, errs.BadRequest("undecodable validation body"))
			return
		}
		err := services.Updates.BulkUpdateValidation(req.Context(), actor(req),
			chi.URLParam(req, "formID"), body.SubmissionIDs, domainsubmission.Validation(body.Status))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/forms/{formID}/submissions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SubmissionIDs []string `json:"submissionIds"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(ctx, w, errs.BadRequest("undecodable delete body"))
			return
		}
		err := services.Updates.Remove(req.Context(), actor(req),
			chi.URLParam(req, "formID"), body.SubmissionIDs)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/forms/{formID}/history", func(w http.ResponseWriter, req *http.Request) {
		page, err := services.History.Search(req.Context(), ports.HistorySearch{
			FormID: chi.URLParam(req, "formID"),
			Limit:  queryInt(req, "limit", 50),
			Offset: queryInt(req, "offset", 0),
		})
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	})

	r.Get("/api/attachments/signed/{token}", func(w http.ResponseWriter, req *http.Request) {
		path, err := services.Attachments.VerifySignedToken(chi.URLParam(req, "token"))
		if err != nil {
			writeError(ctx, w, errs.BadRequest("invalid or expired token"))
			return
		}
		data, err := services.Attachments.Open(req.Context(), path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				writeError(ctx, w, errs.NotFound("attachment not found"))
				return
			}
			writeError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		serveEvents(ctx, services.Bus, w, req)
	})

	return r
}

// serveEvents bridges the event bus onto one websocket connection.
func serveEvents(ctx context.Context, bus ports.EventBus, w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	type frame struct {
		Subject string          `json:"subject"`
		Payload json.RawMessage `json:"payload"`
	}
	frames := make(chan frame, 32)

	var unsubscribes []func()
	for _, subject := range eventSubjects {
		unsubscribe, err := bus.Subscribe(subject, func(subject string, data []byte) {
			select {
			case frames <- frame{Subject: subject, Payload: data}:
			default:
				// A slow consumer drops frames instead of blocking the bus.
			}
		})
		if err != nil {
			logging.Warn(ctx, "event subscription failed",
				slog.String("subject", subject), slog.Any("err", errs.Loggable(err)))
			continue
		}
		unsubscribes = append(unsubscribes, unsubscribe)
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	// Reader goroutine notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-closed:
			return
		case f := <-frames:
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func searchParams(req *http.Request) (ports.SubmissionSearch, error) {
	params := ports.SubmissionSearch{
		FormID: chi.URLParam(req, "formID"),
		Limit:  queryInt(req, "limit", 50),
		Offset: queryInt(req, "offset", 0),
	}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &params.Start}, {"end", &params.End}} {
		raw := req.URL.Query().Get(bound.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ports.SubmissionSearch{}, errs.BadRequest("invalid %s bound %q", bound.name, raw)
		}
		*bound.dst = &t
	}

	// filter=question:value, repeatable; values for the same question merge.
	byQuestion := map[string]int{}
	for _, raw := range req.URL.Query()["filter"] {
		question, value, ok := cutFilter(raw)
		if !ok {
			return ports.SubmissionSearch{}, errs.BadRequest("invalid filter %q", raw)
		}
		if idx, seen := byQuestion[question]; seen {
			params.Filters[idx].Values = append(params.Filters[idx].Values, value)
			continue
		}
		byQuestion[question] = len(params.Filters)
		params.Filters = append(params.Filters, ports.QuestionFilter{
			Question: question,
			Values:   []string{value},
		})
	}
	return params, nil
}

func cutFilter(raw string) (question, value string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw[:i], raw[i+1:], raw[:i] != ""
		}
	}
	return "", "", false
}

func actor(req *http.Request) string {
	if a := req.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindBadRequest:
		status = http.StatusBadRequest
	case errs.KindConflict:
		status = http.StatusConflict
	default:
		logging.Error(ctx, "request failed", slog.Any("err", errs.Loggable(err)))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
