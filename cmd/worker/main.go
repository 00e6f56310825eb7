// Command worker is the HTTP invocation target for queue-backed async
// triggers (Cloud Tasks, or anything that can POST the payload). Each
// request resumes one orchestrator run under the audit id the API already
// handed to the caller.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/config"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/infra"
	"github.com/opx/automation/internal/invoker"
	"github.com/opx/automation/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := infra.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	w := &worker{orch: app.Orchestrator, logger: logger.Named("worker")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/invoke/{operation}", w.handleInvoke).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("worker listening", zap.Int("port", cfg.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type worker struct {
	orch   *automation.Orchestrator
	logger *zap.Logger
}

// handleInvoke executes one payload synchronously. A non-2xx response
// tells the queue to redeliver, so only genuine execution failures map to
// 500; payload problems are 400 and consume the message.
func (w *worker) handleInvoke(rw http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["operation"]

	var p invoker.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeWorkerError(rw, http.StatusBadRequest, "INVALID_REQUEST", "malformed payload")
		return
	}
	if string(p.Operation) != op {
		writeWorkerError(rw, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("path operation %q does not match payload operation %q", op, p.Operation))
		return
	}

	req, err := automation.RequestFromPayload(p)
	if err != nil {
		writeWorkerError(rw, http.StatusBadRequest, opxerr.CodeOf(err), err.Error())
		return
	}

	result, err := w.orch.Run(r.Context(), req)
	if err != nil {
		w.logger.Error("run failed",
			zap.String("operation", op),
			zap.String("auditId", p.AuditID),
			zap.Error(err))
		writeWorkerError(rw, http.StatusInternalServerError, opxerr.CodeOf(err), err.Error())
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"auditId": result.AuditID,
		"status":  string(result.Status),
	})
}

func writeWorkerError(rw http.ResponseWriter, status int, code, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": code, "message": message})
}
