package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-pkgz/auth/v2/token"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ukiyolabs/ukiyo-serve/auth"
	"github.com/ukiyolabs/ukiyo-serve/database"
	handler "github.com/ukiyolabs/ukiyo-serve/handlers"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"github.com/ukiyolabs/ukiyo-serve/router"
	"github.com/ukiyolabs/ukiyo-serve/storage"
	"github.com/ukiyolabs/ukiyo-serve/tasks"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Queue: tasks.QueueTransforms, Type: task.Type()}, nil
}

type fakeController struct {
	deleted   []string
	cancelled []string
	deleteErr error
}

func (f *fakeController) DeleteTask(queue, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeController) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type testEnv struct {
	app        *fiber.App
	db         *gorm.DB
	enqueuer   *fakeEnqueuer
	controller *fakeController
}

// newTestEnv stands up the full HTTP stack against an in-memory
// database, local blob storage and fake queue collaborators.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Transformation{},
		&models.GalleryItem{},
		&models.ModelConfig{},
	))
	database.SetDB(db)
	auth.SetupAuthService()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	controller := &fakeController{}
	handler.Setup(store, enqueuer, controller, nil, zerolog.Nop())

	app := fiber.New()
	router.SetupRoutes(app, "")

	return &testEnv{app: app, db: db, enqueuer: enqueuer, controller: controller}
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	user := models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		IsActive: true,
	}
	require.NoError(t, e.db.Create(&user).Error)
	return &user
}

func (e *testEnv) tokenFor(t *testing.T, userID uint) string {
	t.Helper()
	claims := token.Claims{
		User: &token.User{ID: strconv.FormatUint(uint64(userID), 10)},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Audience:  []string{auth.Issuer},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tokenStr, err := auth.GetAuthService().TokenService().Token(claims)
	require.NoError(t, err)
	return tokenStr
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	return resp, body
}

func jsonRequest(t *testing.T, method, target, tokenStr string, payload interface{}) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	if tokenStr != "" {
		req.Header.Set("Authorization", "Bearer "+tokenStr)
	}
	return req
}

func uploadRequest(t *testing.T, tokenStr, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transform/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	return req
}

// gifImage encodes a uniform GIF of the given size.
func gifImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func (e *testEnv) seedModel(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.ModelConfig{
		Name:          name,
		DisplayName:   "Test Model",
		Backend:       models.BackendStableDiffusion,
		ModelRef:      "stability-ai/stable-diffusion:test",
		DefaultPrompt: "a delicate watercolor painting",
		IsActive:      true,
	}).Error)
}

func (e *testEnv) seedTransformation(t *testing.T, userID uint, taskID, status string) *models.Transformation {
	t.Helper()
	tr := models.Transformation{
		TaskID:           taskID,
		UserID:           userID,
		Status:           status,
		OriginalFilename: "original.jpg",
		OriginalURL:      "/uploads/originals/original.jpg",
		ModelName:        "test-model",
		Prompt:           "a delicate watercolor painting",
	}
	require.NoError(t, e.db.Create(&tr).Error)
	return &tr
}

func TestUploadRejectsCorruptImageBeforeEnqueue(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada")
	tokenStr := env.tokenFor(t, user.ID)
	env.seedModel(t, "stable-diffusion-v1-5")

	req := uploadRequest(t, tokenStr, "photo.png", []byte("not-image"), nil)
	resp, body := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Message, "Invalid image file")

	// Nothing was persisted or queued for a rejected upload.
	var count int64
	env.db.Model(&models.Transformation{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, env.enqueuer.tasks)
}

func TestUploadRecordsStoredFilename(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "hokusai")
	tokenStr := env.tokenFor(t, user.ID)
	env.seedModel(t, "stable-diffusion-v1-5")

	req := uploadRequest(t, tokenStr, "anim.gif", gifImage(t, 64, 64), nil)
	resp, body := env.do(t, req)

	require.Equal(t, http.StatusAccepted, resp.StatusCode, body.Message)

	var data struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	require.NotEmpty(t, data.TaskID)
	require.Len(t, env.enqueuer.tasks, 1)
	assert.Equal(t, tasks.TypeTransformRun, env.enqueuer.tasks[0].Type())

	// Storage re-encodes gif uploads as jpg; the record must carry the
	// name the blob actually lives under, not the upload name.
	var tr models.Transformation
	require.NoError(t, env.db.Where("task_id = ?", data.TaskID).First(&tr).Error)
	assert.True(t, strings.HasSuffix(tr.OriginalFilename, ".jpg"), "got %q", tr.OriginalFilename)
	assert.Equal(t, path.Base(tr.OriginalURL), tr.OriginalFilename)
}

func TestCancelPendingTransformation(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada")
	tokenStr := env.tokenFor(t, user.ID)
	tr := env.seedTransformation(t, user.ID, "task-cancel-1", models.StatusPending)

	req := jsonRequest(t, http.MethodPost, "/api/transform/cancel/"+tr.TaskID, tokenStr, nil)
	resp, body := env.do(t, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, []string{tr.TaskID}, env.controller.deleted)

	var reloaded models.Transformation
	require.NoError(t, env.db.First(&reloaded, tr.ID).Error)
	assert.Equal(t, models.StatusFailed, reloaded.Status)
	assert.Equal(t, "Cancelled by user", reloaded.ErrorMessage)

	// Terminal now, a second cancel is rejected.
	req = jsonRequest(t, http.MethodPost, "/api/transform/cancel/"+tr.TaskID, tokenStr, nil)
	resp, _ = env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGalleryDeleteFreesUniqueSlot(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "ada")
	tokenStr := env.tokenFor(t, user.ID)
	tr := env.seedTransformation(t, user.ID, "task-gallery-1", models.StatusCompleted)

	create := map[string]interface{}{
		"transformation_id": tr.ID,
		"title":             "Sunset",
	}

	resp, body := env.do(t, jsonRequest(t, http.MethodPost, "/api/gallery/", tokenStr, create))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)

	var item struct {
		ID uint `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &item))
	require.NotZero(t, item.ID)

	// The same transformation cannot be published twice.
	resp, _ = env.do(t, jsonRequest(t, http.MethodPost, "/api/gallery/", tokenStr, create))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Deleting the item frees its slot in the composite unique index,
	// so re-publishing succeeds.
	resp, _ = env.do(t, jsonRequest(t, http.MethodDelete, fmt.Sprintf("/api/gallery/%d", item.ID), tokenStr, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, jsonRequest(t, http.MethodPost, "/api/gallery/", tokenStr, create))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)
}

func TestDeleteUserFreesUsernameAndEmail(t *testing.T) {
	env := newTestEnv(t)

	register := map[string]interface{}{
		"username": "ada",
		"email":    "ada@example.com",
		"password": "password123",
	}

	resp, body := env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", "", register))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)

	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.NotZero(t, created.ID)

	tokenStr := env.tokenFor(t, created.ID)
	target := fmt.Sprintf("/api/user/%d", created.ID)
	resp, _ = env.do(t, jsonRequest(t, http.MethodDelete, target, tokenStr, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The account is gone for real, so the username and email can be
	// registered again.
	resp, body = env.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", "", register))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)
}
