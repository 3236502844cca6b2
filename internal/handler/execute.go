package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
)

// MaxBodySize bounds request bodies, including multipart uploads.
const MaxBodySize = 1 << 20

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(exec executor.Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

// executeRequestBody is the JSON body of POST /execute.
// Timeout is in whole seconds.
type executeRequestBody struct {
	Code     string  `json:"code"`
	Language string  `json:"language"`
	Timeout  *uint64 `json:"timeout,omitempty"`
	Stdin    *string `json:"stdin,omitempty"`
}

// HandleExecute runs code submitted as JSON.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	var body executeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeResult(w, nil, apperror.ValidationFailed("body", fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	lang, err := executor.ParseLanguage(body.Language)
	if err != nil {
		writeResult(w, nil, err)
		return
	}

	h.run(w, r, executor.ExecutionRequest{
		Language: lang,
		Code:     body.Code,
		Timeout:  seconds(body.Timeout),
		Stdin:    body.Stdin,
	})
}

// HandleExecuteFile runs code uploaded as the "code" part of a multipart
// form. Language and timeout come from the query string.
func (h *ExecuteHandler) HandleExecuteFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	query := r.URL.Query()
	lang, err := executor.ParseLanguage(query.Get("language"))
	if err != nil {
		writeResult(w, nil, err)
		return
	}

	var timeout *uint64
	if raw := query.Get("timeout"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeResult(w, nil, apperror.ValidationFailed("timeout", fmt.Sprintf("invalid timeout: %s", raw)))
			return
		}
		timeout = &n
	}

	code, err := readCodePart(r)
	if err != nil {
		h.logger.Warn("invalid multipart upload", slog.String("error", err.Error()))
		writeResult(w, nil, err)
		return
	}

	h.run(w, r, executor.ExecutionRequest{
		Language: lang,
		Code:     code,
		Timeout:  seconds(timeout),
	})
}

func (h *ExecuteHandler) run(w http.ResponseWriter, r *http.Request, req executor.ExecutionRequest) {
	h.logger.Info("executing code", slog.String("language", req.Language.String()))

	result, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
	}

	writeResult(w, result, err)
}

// readCodePart returns the text of the first part named "code".
func readCodePart(r *http.Request) (string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", apperror.ValidationFailed("code", fmt.Sprintf("invalid multipart body: %v", err))
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperror.ValidationFailed("code", fmt.Sprintf("invalid multipart body: %v", err))
		}
		if part.FormName() != "code" {
			continue
		}
		code, err := readPart(part)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
	}

	return "", apperror.ValidationFailed("code", "code is empty")
}

func readPart(part *multipart.Part) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		return "", apperror.ValidationFailed("code", fmt.Sprintf("reading code: %v", err))
	}
	return string(data), nil
}

func seconds(n *uint64) time.Duration {
	if n == nil {
		return 0
	}
	return executor.TimeoutSeconds(*n)
}
