package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"taskflow/internal/handlers/dto"
	"taskflow/internal/identity"
	"taskflow/internal/logger"
	"taskflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type TaskHandler struct {
	TaskService Service
}

func NewTaskHandler(taskService Service) *TaskHandler {
	return &TaskHandler{
		TaskService: taskService,
	}
}

// caller returns the verified identity or answers 401.
func caller(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		logger.Warn("HTTP: request without identity", zap.String("path", r.URL.Path))
		responseWithError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid credentials")
		return identity.Identity{}, false
	}
	return id, true
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		logger.Warn("HTTP: invalid task id",
			zap.String("id", chi.URLParam(r, "id")),
			zap.String("client_ip", r.RemoteAddr))
		handleBusinessError(w, r, service.NewInvalidArgument("taskId", "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON enforces a JSON content type and decodes the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !checkContentType(r, "application/json") {
		logger.Warn("HTTP: wrong content type",
			zap.String("expected", "application/json"),
			zap.String("received", r.Header.Get("Content-Type")),
			zap.String("client_ip", r.RemoteAddr))
		responseWithError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
		return false
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		logger.Warn("HTTP: malformed JSON", zap.Error(err), zap.String("client_ip", r.RemoteAddr))
		responseWithError(w, http.StatusBadRequest, service.CodeInvalidArgument, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *TaskHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.TaskService.HealthCheck(r.Context()); err != nil {
		logger.Error("HTTP: health check failed", err)
		responseWithJSON(w, http.StatusServiceUnavailable,
			toPayload("status", "unavailable"),
			toPayload("service", "taskflow"),
		)
		return
	}
	responseWithJSON(w, http.StatusOK,
		toPayload("status", "ok"),
		toPayload("service", "taskflow"),
		toPayload("time", time.Now().UTC().Format(time.RFC3339)),
	)
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN: list tasks")

	id, ok := caller(w, r)
	if !ok {
		return
	}

	tasks, err := h.TaskService.ListVisibleTasks(r.Context(), id)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: tasks listed",
		zap.Int("count", len(tasks)),
		zap.Duration("ms", time.Since(start)))
	responseWithBody(w, http.StatusOK, dto.TaskListResponse{
		Tasks: dto.FromTaskList(tasks),
		Count: len(tasks),
	})
}

func (h *TaskHandler) PostTask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN: create task")

	id, ok := caller(w, r)
	if !ok {
		return
	}

	var request dto.CreateTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	created, err := h.TaskService.CreateTask(r.Context(), id, service.CreateTaskInput{
		Title:       request.Title,
		Description: request.Description,
		Priority:    request.Priority,
		DueDate:     request.DueTime(),
	})
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: task created",
		zap.String("task_id", created.UUID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusCreated))
	responseWithBody(w, http.StatusCreated, dto.FromTask(created))
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	logger.HttpRequestInfo(r, "HTTP_IN: get task")

	id, ok := caller(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	t, err := h.TaskService.GetTask(r.Context(), id, taskID)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}
	responseWithBody(w, http.StatusOK, dto.FromTask(t))
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN: update task")

	id, ok := caller(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	var request dto.UpdateTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	updated, err := h.TaskService.UpdateTask(r.Context(), id, taskID, service.UpdateTaskInput{
		Status:      request.Status,
		Description: request.Description,
		Priority:    request.Priority,
	})
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: task updated",
		zap.String("task_id", taskID.String()),
		zap.Duration("ms", time.Since(start)))
	responseWithBody(w, http.StatusOK, dto.FromTask(updated))
}

func (h *TaskHandler) AssignTask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN: assign task")

	id, ok := caller(w, r)
	if !ok {
		return
	}
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	var request dto.AssignTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	created, err := h.TaskService.AssignTask(r.Context(), id, taskID, request.UserEmail)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: task assigned",
		zap.String("task_id", taskID.String()),
		zap.String("assignment_id", created.UUID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusCreated))
	responseWithBody(w, http.StatusCreated, dto.FromAssignment(created))
}

func (h *TaskHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	logger.HttpRequestInfo(r, "HTTP_IN: list users")

	id, ok := caller(w, r)
	if !ok {
		return
	}

	users, err := h.TaskService.ListUsers(r.Context(), id)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}
	responseWithJSON(w, http.StatusOK, toPayload("users", dto.FromUsers(users)))
}

// Routes mounts the task API on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks) // GET /tasks
		r.Post("/", h.PostTask) // POST /tasks

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetTask)           // GET /tasks/{id}
			r.Put("/", h.UpdateTask)        // PUT /tasks/{id}
			r.Post("/assign", h.AssignTask) // POST /tasks/{id}/assign
		})
	})

	r.Get("/users", h.ListUsers)
}
